package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.NewStore()
	store.SeedProducts([]domain.Product{
		{ID: "product-1", Name: "Keyboard", PriceMinor: 5000, Stock: 10},
		{ID: "product-2", Name: "Mouse", PriceMinor: 5000, Stock: 8},
	})
	return store
}

func testOrder(ownerID string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         "order-1",
		OwnerID:    ownerID,
		Status:     domain.OrderStatusPending,
		TotalMinor: 10000,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "product-1", Qty: 2, PriceMinor: 5000, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_CommitPersistsChanges(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := uow.Orders().Create(ctx, testOrder("user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Products().AdjustStock(ctx, "product-1", -2); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	product, ok := store.Product("product-1")
	if !ok {
		t.Fatal("product disappeared")
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", product.Stock)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = uow.Rollback() }()

	stored, err := uow.Orders().Get(ctx, "user-1", "order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.TotalMinor != 10000 {
		t.Fatalf("expected total 10000, got %d", stored.TotalMinor)
	}
}

func TestStore_RollbackRestoresSnapshot(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := uow.Orders().Create(ctx, testOrder("user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Products().AdjustStock(ctx, "product-1", -5); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: "OrderCreated"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	product, _ := store.Product("product-1")
	if product.Stock != 10 {
		t.Fatalf("expected stock 10 after rollback, got %d", product.Stock)
	}

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()
	if _, err := uow.Orders().Get(ctx, "user-1", "order-1"); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound after rollback, got %v", err)
	}

	stats, err := store.OutboxRepository().Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty outbox after rollback, got %d pending", stats.PendingCount)
	}
}

func TestStore_RollbackAfterCommitIsNoop(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	if err := uow.Products().AdjustStock(ctx, "product-1", -1); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback after commit must be no-op, got %v", err)
	}

	product, _ := store.Product("product-1")
	if product.Stock != 9 {
		t.Fatalf("expected stock 9, got %d", product.Stock)
	}
}

func TestStore_AdjustStockGuardsNegative(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()

	err := uow.Products().AdjustStock(ctx, "product-1", -11)
	if !domain.IsStockConflict(err) {
		t.Fatalf("expected stock conflict, got %v", err)
	}

	if err := uow.Products().AdjustStock(ctx, "missing", 1); err == nil {
		t.Fatal("expected product not found")
	} else if _, ok := domain.IsProductNotFound(err); !ok {
		t.Fatalf("expected ProductNotFoundError, got %v", err)
	}
}

func TestStore_OrderScopedByOwner(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	if err := uow.Orders().Create(ctx, testOrder("user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()

	if _, err := uow.Orders().Get(ctx, "user-2", "order-1"); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound for foreign owner, got %v", err)
	}
	if err := uow.Orders().Delete(ctx, "user-2", "order-1"); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound for foreign delete, got %v", err)
	}

	orders, err := uow.Orders().ListByOwner(ctx, "user-2", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders for foreign owner, got %d", len(orders))
	}
}

func TestStore_ReplaceItemsBumpsVersion(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	if err := uow.Orders().Create(ctx, testOrder("user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_ = uow.Commit(ctx)

	uow, _ = store.Begin(ctx)
	order, err := uow.Orders().Get(ctx, "user-1", "order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	order.Items = []domain.OrderItem{
		{ID: "item-2", ProductID: "product-2", Qty: 4, PriceMinor: 5000, CreatedAt: time.Now().UTC()},
	}
	order.TotalMinor = 20000
	if err := uow.Orders().ReplaceItems(ctx, order); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	_ = uow.Commit(ctx)

	uow, _ = store.Begin(ctx)
	defer func() { _ = uow.Rollback() }()
	updated, _ := uow.Orders().Get(ctx, "user-1", "order-1")
	if updated.Version != order.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}
	if len(updated.Items) != 1 || updated.Items[0].ProductID != "product-2" {
		t.Fatalf("expected replaced items, got %+v", updated.Items)
	}
	if updated.TotalMinor != 20000 {
		t.Fatalf("expected total 20000, got %d", updated.TotalMinor)
	}
}

func TestStore_OutboxLifecycle(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	msg, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderCreated",
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}
	_ = uow.Commit(ctx)

	repo := store.OutboxRepository()
	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}

	if err := repo.MarkSent(ctx, msg.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, _ = repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending after mark sent, got %d", len(pending))
	}

	if err := repo.MarkSent(ctx, "missing"); err != domain.ErrOutboxPublish {
		t.Fatalf("expected ErrOutboxPublish for missing id, got %v", err)
	}
}
