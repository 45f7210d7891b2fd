package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrTotalNegative = errors.New("total_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка неподдерживаемого статуса заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка отрицательного остатка товара.
	ErrStockNegative = errors.New("product stock must be non-negative")
	// ErrOrderNotFound возвращается, если заказ не найден в рамках владельца.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStockConflict сигнализирует о конфликте при корректировке остатка:
	// условное обновление не прошло из-за конкурентной мутации. Мутация
	// перезапускается целиком, начиная с валидации.
	ErrStockConflict = errors.New("stock update conflict")
	// ErrUnitOfWorkClosed возвращается при обращении к уже завершённому unit of work.
	ErrUnitOfWorkClosed = errors.New("unit of work is already closed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key request hash mismatch")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ProductNotFoundError возвращается, когда запрошенный товар отсутствует в каталоге.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError возвращается, когда запрошенное количество превышает
// доступный остаток (с учётом возвращаемого резерва этого же заказа).
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %s", e.ProductID)
}

// ValidationError описывает некорректное поле входного запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsStockConflict проверяет, является ли ошибка конфликтом остатков.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// IsProductNotFound проверяет и извлекает ошибку отсутствующего товара.
func IsProductNotFound(err error) (*ProductNotFoundError, bool) {
	var nf *ProductNotFoundError
	if errors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

// IsInsufficientStock проверяет и извлекает ошибку нехватки остатка.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var is *InsufficientStockError
	if errors.As(err, &is) {
		return is, true
	}
	return nil, false
}
