// Пакет memory реализует хранилище заказов и остатков в памяти процесса —
// для локальной разработки и тестов. Unit of work сериализуются одним
// мьютексом: Begin захватывает его, Commit/Rollback освобождают, поэтому
// конкурентные мутации никогда не видят промежуточных состояний друг друга.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultOutboxPullLimit = 100

// outboxRecord хранит сообщение и служебные поля outbox.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// Store — in-memory реализация domain.Store.
type Store struct {
	mu       sync.Mutex
	products map[string]domain.Product
	orders   map[string]domain.Order
	outbox   []*outboxRecord
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
	}
}

// SeedProducts загружает товары каталога. Используется composition root'ом
// при старте с memory-хранилищем и тестами.
func (s *Store) SeedProducts(products []domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, product := range products {
		if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		if product.UpdatedAt.IsZero() {
			product.UpdatedAt = now
		}
		s.products[product.ID] = product
	}
}

// Product возвращает копию товара (для проверок в тестах и health-обработчиках).
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	return product, ok
}

// Begin открывает unit of work, захватывая мьютекс хранилища до
// Commit/Rollback. Снимок состояния снимается сразу, чтобы Rollback
// мог восстановить его на любом пути выхода.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	uow := &unitOfWork{
		store:    s,
		products: cloneProducts(s.products),
		orders:   cloneOrders(s.orders),
		outbox:   cloneOutbox(s.outbox),
	}
	return uow, nil
}

// OutboxRepository возвращает standalone-репозиторий outbox для воркера
// публикации: каждый вызов берёт мьютекс хранилища самостоятельно.
func (s *Store) OutboxRepository() domain.OutboxRepository {
	return &standaloneOutboxRepository{store: s}
}

// unitOfWork работает с состоянием Store напрямую под удерживаемым
// мьютексом; snapshot-поля хранят состояние на момент Begin.
type unitOfWork struct {
	store  *Store
	closed bool

	products map[string]domain.Product
	orders   map[string]domain.Order
	outbox   []*outboxRecord
}

func (u *unitOfWork) Products() domain.ProductRepository { return &productRepository{uow: u} }
func (u *unitOfWork) Orders() domain.OrderRepository     { return &orderRepository{uow: u} }
func (u *unitOfWork) Outbox() domain.OutboxRepository    { return &uowOutboxRepository{uow: u} }

// Commit фиксирует изменения: снимок отбрасывается, мьютекс освобождается.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	if err := ctx.Err(); err != nil {
		u.restore()
		u.release()
		return err
	}
	u.release()
	return nil
}

// Rollback восстанавливает снимок состояния. После Commit — no-op.
func (u *unitOfWork) Rollback() error {
	if u.closed {
		return nil
	}
	u.restore()
	u.release()
	return nil
}

func (u *unitOfWork) restore() {
	u.store.products = u.products
	u.store.orders = u.orders
	u.store.outbox = u.outbox
}

func (u *unitOfWork) release() {
	u.closed = true
	u.store.mu.Unlock()
}

type productRepository struct {
	uow *unitOfWork
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if r.uow.closed {
		return domain.Product{}, domain.ErrUnitOfWorkClosed
	}
	product, ok := r.uow.store.products[id]
	if !ok {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	return product, nil
}

func (r *productRepository) GetBatch(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.uow.store.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (r *productRepository) AdjustStock(ctx context.Context, productID string, delta int32) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	product, ok := r.uow.store.products[productID]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	// Относительная дельта с охранным условием stock + delta >= 0:
	// остаток не может стать отрицательным даже внутри unit of work.
	if product.Stock+delta < 0 {
		return domain.ErrStockConflict
	}
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	r.uow.store.products[productID] = product
	return nil
}

type orderRepository struct {
	uow *unitOfWork
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	if _, exists := r.uow.store.orders[order.ID]; exists {
		return domain.ErrStockConflict
	}
	r.uow.store.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepository) Get(ctx context.Context, ownerID, orderID string) (domain.Order, error) {
	if r.uow.closed {
		return domain.Order{}, domain.ErrUnitOfWorkClosed
	}
	order, ok := r.uow.store.orders[orderID]
	if !ok || order.OwnerID != ownerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}

	result := make([]domain.Order, 0, len(r.uow.store.orders))
	for _, order := range r.uow.store.orders {
		if order.OwnerID != ownerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *orderRepository) ReplaceItems(ctx context.Context, order domain.Order) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	current, ok := r.uow.store.orders[order.ID]
	if !ok || current.OwnerID != order.OwnerID {
		return domain.ErrOrderNotFound
	}

	current.Items = cloneItems(order.Items)
	current.TotalMinor = order.TotalMinor
	current.UpdatedAt = order.UpdatedAt
	current.Version++
	r.uow.store.orders[order.ID] = current
	return nil
}

func (r *orderRepository) Delete(ctx context.Context, ownerID, orderID string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	order, ok := r.uow.store.orders[orderID]
	if !ok || order.OwnerID != ownerID {
		return domain.ErrOrderNotFound
	}
	delete(r.uow.store.orders, orderID)
	return nil
}

type uowOutboxRepository struct {
	uow *unitOfWork
}

func (r *uowOutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if r.uow.closed {
		return domain.OutboxMessage{}, domain.ErrUnitOfWorkClosed
	}
	return enqueueLocked(&r.uow.store.outbox, msg), nil
}

func (r *uowOutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	return pullPendingLocked(r.uow.store.outbox, limit), nil
}

func (r *uowOutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if r.uow.closed {
		return domain.OutboxStats{}, domain.ErrUnitOfWorkClosed
	}
	return statsLocked(r.uow.store.outbox), nil
}

func (r *uowOutboxRepository) MarkSent(ctx context.Context, id string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	return markStatusLocked(r.uow.store.outbox, id, "sent")
}

func (r *uowOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	return markStatusLocked(r.uow.store.outbox, id, "failed")
}

// standaloneOutboxRepository берёт мьютекс хранилища на каждый вызов —
// для outbox-воркера, работающего вне unit of work.
type standaloneOutboxRepository struct {
	store *Store
}

func (r *standaloneOutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return enqueueLocked(&r.store.outbox, msg), nil
}

func (r *standaloneOutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return pullPendingLocked(r.store.outbox, limit), nil
}

func (r *standaloneOutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return statsLocked(r.store.outbox), nil
}

func (r *standaloneOutboxRepository) MarkSent(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markStatusLocked(r.store.outbox, id, "sent")
}

func (r *standaloneOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markStatusLocked(r.store.outbox, id, "failed")
}

func enqueueLocked(outbox *[]*outboxRecord, msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	*outbox = append(*outbox, &outboxRecord{
		msg:       msg,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	})
	return msg
}

func pullPendingLocked(outbox []*outboxRecord, limit int) []domain.OutboxMessage {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, record := range outbox {
		if record.status != "pending" {
			continue
		}
		result = append(result, record.msg)
		if len(result) >= limit {
			break
		}
	}
	return result
}

func statsLocked(outbox []*outboxRecord) domain.OutboxStats {
	var stats domain.OutboxStats
	for _, record := range outbox {
		if record.status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || record.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = record.createdAt
		}
	}
	return stats
}

func markStatusLocked(outbox []*outboxRecord, id, status string) error {
	for _, record := range outbox {
		if record.msg.ID != id {
			continue
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		return nil
	}
	return domain.ErrOutboxPublish
}

func cloneProducts(products map[string]domain.Product) map[string]domain.Product {
	result := make(map[string]domain.Product, len(products))
	for id, product := range products {
		result[id] = product
	}
	return result
}

func cloneOrders(orders map[string]domain.Order) map[string]domain.Order {
	result := make(map[string]domain.Order, len(orders))
	for id, order := range orders {
		result[id] = cloneOrder(order)
	}
	return result
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = cloneItems(order.Items)
	return order
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	if items == nil {
		return nil
	}
	result := make([]domain.OrderItem, len(items))
	copy(result, items)
	return result
}

func cloneOutbox(outbox []*outboxRecord) []*outboxRecord {
	result := make([]*outboxRecord, len(outbox))
	for i, record := range outbox {
		clone := *record
		result[i] = &clone
	}
	return result
}

var (
	_ domain.Store            = (*Store)(nil)
	_ domain.UnitOfWork       = (*unitOfWork)(nil)
	_ domain.OutboxRepository = (*standaloneOutboxRepository)(nil)
)
