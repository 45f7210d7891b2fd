package domain

import "context"

// ProductRepository описывает доступ к товарам в рамках unit of work.
type ProductRepository interface {
	// Get возвращает товар или *ProductNotFoundError, если его нет.
	Get(ctx context.Context, id string) (Product, error)
	// GetBatch возвращает товары по списку идентификаторов. Отсутствующие
	// товары в результат не попадают — решение об ошибке принимает вызывающий.
	GetBatch(ctx context.Context, ids []string) (map[string]Product, error)
	// AdjustStock применяет относительную дельту к остатку на уровне
	// хранилища: stock = stock + delta при условии stock + delta >= 0.
	// Непрошедшее условие для существующего товара — ErrStockConflict.
	AdjustStock(ctx context.Context, productID string, delta int32) error
}

// OrderRepository описывает требования к хранилищу заказов.
// Все операции ограничены владельцем заказа.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ владельца или ErrOrderNotFound.
	Get(ctx context.Context, ownerID, orderID string) (Order, error)
	// ListByOwner возвращает заказы владельца с опциональным ограничением на количество.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Order, error)
	// ReplaceItems полностью заменяет набор позиций заказа и его сумму
	// (полная замена, не merge) с инкрементом версии.
	ReplaceItems(ctx context.Context, order Order) error
	// Delete удаляет заказ владельца вместе с позициями или возвращает ErrOrderNotFound.
	Delete(ctx context.Context, ownerID, orderID string) error
}

// UnitOfWork ограничивает набор операций хранилища, которые фиксируются
// или откатываются вместе. Контракт атомарности виден в сигнатуре:
// репозитории, полученные из UnitOfWork, работают внутри одной транзакции.
type UnitOfWork interface {
	Products() ProductRepository
	Orders() OrderRepository
	Outbox() OutboxRepository

	// Commit фиксирует все накопленные изменения.
	Commit(ctx context.Context) error
	// Rollback откатывает изменения; после Commit является no-op.
	// Безопасен для вызова в defer на любом пути выхода.
	Rollback() error
}

// Store открывает unit of work. Жизненным циклом хранилища владеет
// composition root процесса, а не отдельные функции.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
