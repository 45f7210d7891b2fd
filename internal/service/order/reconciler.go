package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 10 * time.Millisecond

	aggregateTypeOrder = "order"
)

// Reconciler выполняет мутации заказов как state machine
// Validating -> Reserving -> Persisted (успех) либо Validating -> Rejected
// (отказ без побочных эффектов). Каждая мутация — один unit of work:
// валидация, запись заказа и корректировка остатков фиксируются вместе
// или не фиксируются вовсе.
type Reconciler struct {
	store     domain.Store
	validator Validator
	logger    *log.Entry
	metrics   *metrics.ReconcilerMetrics

	maxRetries     int
	retryBaseDelay time.Duration
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithoutMetrics отключает метрики (для тестов).
func WithoutMetrics() Option {
	return func(r *Reconciler) {
		r.metrics = nil
	}
}

// WithRetry задаёт число перезапусков мутации при конфликте остатков
// и базовую задержку exponential backoff.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(r *Reconciler) {
		if maxRetries > 0 {
			r.maxRetries = maxRetries
		}
		if baseDelay >= 0 {
			r.retryBaseDelay = baseDelay
		}
	}
}

// NewReconciler создаёт рабочий экземпляр reconciler.
func NewReconciler(store domain.Store, logger *log.Entry, options ...Option) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "reconciler")
	}
	r := &Reconciler{
		store:          store,
		logger:         logger,
		metrics:        metrics.NewReconcilerMetrics(),
		maxRetries:     defaultMaxRetries,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Create валидирует и создаёт заказ со статусом pending, списывая остаток
// по каждой позиции. При отказе валидации ни заказ, ни остатки не меняются.
func (r *Reconciler) Create(ctx context.Context, ownerID string, requested []ItemRequest) (domain.Order, error) {
	return r.runMutation(ctx, metrics.MutationCreate, func(ctx context.Context, uow domain.UnitOfWork) (domain.Order, error) {
		catalog, err := uow.Products().GetBatch(ctx, requestedProductIDs(requested, nil))
		if err != nil {
			return domain.Order{}, err
		}

		result, err := r.validator.ValidateCreate(requested, catalog)
		if err != nil {
			return domain.Order{}, err
		}

		now := time.Now().UTC()
		order := domain.Order{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			Status:     domain.OrderStatusPending,
			TotalMinor: result.TotalMinor,
			Items:      buildItems(result.Items, now),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := uow.Orders().Create(ctx, order); err != nil {
			return domain.Order{}, err
		}
		if err := applyDeltas(ctx, uow.Products(), result.Deltas); err != nil {
			return domain.Order{}, err
		}
		if err := r.emitEvent(ctx, uow, domain.EventTypeOrderCreated, &order); err != nil {
			return domain.Order{}, err
		}

		return order, nil
	})
}

// Update полностью заменяет набор позиций заказа (replace, не merge)
// и применяет вычисленные дельты к остаткам. Доступность проверяется
// с учётом резерва, возвращаемого этим же заказом.
func (r *Reconciler) Update(ctx context.Context, ownerID, orderID string, requested []ItemRequest) (domain.Order, error) {
	return r.runMutation(ctx, metrics.MutationUpdate, func(ctx context.Context, uow domain.UnitOfWork) (domain.Order, error) {
		order, err := uow.Orders().Get(ctx, ownerID, orderID)
		if err != nil {
			return domain.Order{}, err
		}

		catalog, err := uow.Products().GetBatch(ctx, requestedProductIDs(requested, order.Items))
		if err != nil {
			return domain.Order{}, err
		}

		result, err := r.validator.ValidateUpdate(order.Items, requested, catalog)
		if err != nil {
			return domain.Order{}, err
		}

		now := time.Now().UTC()
		order.Items = buildItems(result.Items, now)
		order.TotalMinor = result.TotalMinor
		order.UpdatedAt = now

		if err := uow.Orders().ReplaceItems(ctx, order); err != nil {
			return domain.Order{}, err
		}
		order.Version++

		if err := applyDeltas(ctx, uow.Products(), result.Deltas); err != nil {
			return domain.Order{}, err
		}
		if err := r.emitEvent(ctx, uow, domain.EventTypeOrderUpdated, &order); err != nil {
			return domain.Order{}, err
		}

		return order, nil
	})
}

// Delete удаляет заказ владельца, возвращая остаток по каждой позиции.
// Четыре шага — чтение, возврат остатков, удаление позиций, удаление
// заказа — фиксируются вместе или не фиксируются вовсе.
func (r *Reconciler) Delete(ctx context.Context, ownerID, orderID string) error {
	_, err := r.runMutation(ctx, metrics.MutationDelete, func(ctx context.Context, uow domain.UnitOfWork) (domain.Order, error) {
		order, err := uow.Orders().Get(ctx, ownerID, orderID)
		if err != nil {
			return domain.Order{}, err
		}

		// Полный возврат резерва: каждая позиция увеличивает остаток
		// своего товара на своё количество.
		for _, item := range order.Items {
			if err := uow.Products().AdjustStock(ctx, item.ProductID, item.Qty); err != nil {
				return domain.Order{}, err
			}
		}

		if err := uow.Orders().Delete(ctx, ownerID, orderID); err != nil {
			return domain.Order{}, err
		}
		if err := r.emitEvent(ctx, uow, domain.EventTypeOrderDeleted, &order); err != nil {
			return domain.Order{}, err
		}

		return order, nil
	})
	return err
}

// Get возвращает заказ владельца. Чистое чтение, состояние не меняется.
func (r *Reconciler) Get(ctx context.Context, ownerID, orderID string) (domain.Order, error) {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = uow.Rollback() }()

	return uow.Orders().Get(ctx, ownerID, orderID)
}

// List возвращает заказы владельца. Чистое чтение, состояние не меняется.
func (r *Reconciler) List(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback() }()

	return uow.Orders().ListByOwner(ctx, ownerID, limit)
}

type mutationFunc func(ctx context.Context, uow domain.UnitOfWork) (domain.Order, error)

// runMutation выполняет мутацию внутри unit of work с ограниченным числом
// перезапусков при конфликте остатков. Перезапуск всегда начинается
// с валидации заново — ни одна мутация не продолжается с частичного состояния.
func (r *Reconciler) runMutation(ctx context.Context, kind metrics.MutationKind, fn mutationFunc) (domain.Order, error) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordMutationStarted(kind)
	}
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordMutationDuration(kind, time.Since(start))
			r.metrics.RecordMutationFinished(kind)
		}
	}()

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		order, err := r.attempt(ctx, fn)
		if err == nil {
			if r.metrics != nil {
				r.metrics.RecordMutationCommitted(kind)
			}
			return order, nil
		}
		lastErr = err

		if !domain.IsStockConflict(err) || attempt >= r.maxRetries {
			break
		}

		if r.metrics != nil {
			r.metrics.RecordConflictRetry(kind)
		}
		r.logger.WithFields(log.Fields{
			"kind":    string(kind),
			"attempt": attempt + 1,
		}).Warn("stock conflict detected, retrying mutation")

		delay := r.retryBaseDelay * time.Duration(1<<uint(attempt))
		if delay > 0 {
			select {
			case <-ctx.Done():
				return domain.Order{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordMutationRejected(kind, rejectionReason(lastErr))
	}
	return domain.Order{}, lastErr
}

func (r *Reconciler) attempt(ctx context.Context, fn mutationFunc) (domain.Order, error) {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	// Rollback после Commit — no-op, поэтому defer безопасен на любом пути.
	defer func() { _ = uow.Rollback() }()

	order, err := fn(ctx, uow)
	if err != nil {
		return domain.Order{}, err
	}

	if err := uow.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *Reconciler) emitEvent(ctx context.Context, uow domain.UnitOfWork, eventType string, order *domain.Order) error {
	payload, err := json.Marshal(domain.NewOrderEventPayload(*order))
	if err != nil {
		return err
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}
	if _, err := uow.Outbox().Enqueue(ctx, msg); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordOutboxEvent()
	}
	return nil
}

// applyDeltas применяет ненулевые дельты к остаткам. Положительная дельта
// возвращает остаток в пул, отрицательная списывает его; сама запись —
// относительная, на уровне хранилища.
func applyDeltas(ctx context.Context, products domain.ProductRepository, deltas map[string]int32) error {
	for productID, delta := range deltas {
		if delta == 0 {
			continue
		}
		if err := products.AdjustStock(ctx, productID, delta); err != nil {
			return err
		}
	}
	return nil
}

func buildItems(priced []PricedItem, now time.Time) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(priced))
	for _, item := range priced {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
	}
	return items
}

// requestedProductIDs собирает уникальные идентификаторы товаров, затронутых
// мутацией: и из запроса, и из прежних позиций заказа.
func requestedProductIDs(requested []ItemRequest, existing []domain.OrderItem) []string {
	seen := make(map[string]struct{}, len(requested)+len(existing))
	ids := make([]string, 0, len(requested)+len(existing))

	for _, req := range requested {
		if _, ok := seen[req.ProductID]; ok {
			continue
		}
		seen[req.ProductID] = struct{}{}
		ids = append(ids, req.ProductID)
	}
	for _, item := range existing {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	return ids
}

// rejectionReason классифицирует причину отказа для метрик.
func rejectionReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "order_not_found"
	case domain.IsStockConflict(err):
		return "stock_conflict"
	default:
		if _, ok := domain.IsProductNotFound(err); ok {
			return "product_not_found"
		}
		if _, ok := domain.IsInsufficientStock(err); ok {
			return "insufficient_stock"
		}
		return "storage_error"
	}
}
