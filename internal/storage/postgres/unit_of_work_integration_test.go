package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func integrationOrder(ownerID string) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Order{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Status:     domain.OrderStatusPending,
		TotalMinor: 10000,
		Items: []domain.OrderItem{
			{ID: uuid.NewString(), ProductID: "product-1", Qty: 2, PriceMinor: 5000, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUnitOfWork_CommitPersistsOrderAndStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductsForIntegrationTest(t, store,
		domain.Product{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 10},
	)

	ctx := context.Background()
	order := integrationOrder("user-1")

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := uow.Products().AdjustStock(ctx, "product-1", -2); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if stock := integrationProductStock(t, store, "product-1"); stock != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", stock)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback() }()

	stored, err := uow.Orders().Get(ctx, "user-1", order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.TotalMinor != order.TotalMinor {
		t.Fatalf("expected total %d, got %d", order.TotalMinor, stored.TotalMinor)
	}
	if len(stored.Items) != 1 || stored.Items[0].ProductID != "product-1" {
		t.Fatalf("unexpected items: %+v", stored.Items)
	}
}

func TestUnitOfWork_RollbackDiscardsEverything(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductsForIntegrationTest(t, store,
		domain.Product{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 10},
	)

	ctx := context.Background()
	order := integrationOrder("user-1")

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := uow.Products().AdjustStock(ctx, "product-1", -5); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order", AggregateID: order.ID, EventType: "OrderCreated", Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if stock := integrationProductStock(t, store, "product-1"); stock != 10 {
		t.Fatalf("expected stock 10 after rollback, got %d", stock)
	}

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()
	if _, err := uow.Orders().Get(ctx, "user-1", order.ID); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound after rollback, got %v", err)
	}

	stats, err := NewOutboxRepository(store).Stats(ctx)
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty outbox after rollback, got %d pending", stats.PendingCount)
	}
}

func TestUnitOfWork_AdjustStockGuard(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductsForIntegrationTest(t, store,
		domain.Product{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 3},
	)

	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback() }()

	if err := uow.Products().AdjustStock(ctx, "product-1", -4); !domain.IsStockConflict(err) {
		t.Fatalf("expected stock conflict, got %v", err)
	}
	if err := uow.Products().AdjustStock(ctx, "missing", -1); err == nil {
		t.Fatal("expected product not found")
	} else if _, ok := domain.IsProductNotFound(err); !ok {
		t.Fatalf("expected ProductNotFoundError, got %v", err)
	}

	// Граница ровно в ноль проходит.
	if err := uow.Products().AdjustStock(ctx, "product-1", -3); err != nil {
		t.Fatalf("expected adjust to zero to succeed: %v", err)
	}
}

func TestUnitOfWork_ClosedGuards(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if err := uow.Commit(ctx); err != domain.ErrUnitOfWorkClosed {
		t.Fatalf("expected ErrUnitOfWorkClosed, got %v", err)
	}
	if _, err := uow.Orders().Get(ctx, "user-1", "any"); err != domain.ErrUnitOfWorkClosed {
		t.Fatalf("expected ErrUnitOfWorkClosed, got %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("double rollback must be no-op, got %v", err)
	}
}

func TestUnitOfWork_ReplaceItemsAndDelete(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductsForIntegrationTest(t, store,
		domain.Product{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 10},
		domain.Product{ID: "product-2", Name: "Mouse", PriceMinor: 3000, Stock: 5},
	)

	ctx := context.Background()
	order := integrationOrder("user-1")

	uow, _ := store.Begin(ctx)
	if err := uow.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	order.Items = []domain.OrderItem{
		{ID: uuid.NewString(), ProductID: "product-2", Qty: 1, PriceMinor: 3000, CreatedAt: now},
	}
	order.TotalMinor = 3000
	order.UpdatedAt = now

	uow, _ = store.Begin(ctx)
	if err := uow.Orders().ReplaceItems(ctx, order); err != nil {
		t.Fatalf("replace items: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	uow, _ = store.Begin(ctx)
	updated, err := uow.Orders().Get(ctx, "user-1", order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1 after replace, got %d", updated.Version)
	}
	if len(updated.Items) != 1 || updated.Items[0].ProductID != "product-2" {
		t.Fatalf("unexpected items after replace: %+v", updated.Items)
	}

	// Удаление каскадом убирает и позиции.
	if err := uow.Orders().Delete(ctx, "user-1", order.ID); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()
	if _, err := uow.Orders().Get(ctx, "user-1", order.ID); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound after delete, got %v", err)
	}
	if err := uow.Orders().Delete(ctx, "user-1", order.ID); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound on repeat delete, got %v", err)
	}
}

func TestUnitOfWork_OwnerScoping(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductsForIntegrationTest(t, store,
		domain.Product{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 10},
	)

	ctx := context.Background()
	order := integrationOrder("user-1")

	uow, _ := store.Begin(ctx)
	if err := uow.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	_ = uow.Commit(ctx)

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()

	if _, err := uow.Orders().Get(ctx, "user-2", order.ID); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound for foreign owner, got %v", err)
	}
	if err := uow.Orders().Delete(ctx, "user-2", order.ID); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound for foreign delete, got %v", err)
	}
	orders, err := uow.Orders().ListByOwner(ctx, "user-2", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no foreign orders, got %d", len(orders))
	}
}
