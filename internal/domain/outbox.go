package domain

import (
	"context"
	"time"
)

// Типы событий заказа, проходящих через outbox.
const (
	EventTypeOrderCreated = "order.created"
	EventTypeOrderUpdated = "order.updated"
	EventTypeOrderDeleted = "order.deleted"
)

// OrderEventItem — позиция заказа в payload события.
type OrderEventItem struct {
	ProductID  string `json:"product_id"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderEventPayload — снимок заказа, публикуемый внешним потребителям.
type OrderEventPayload struct {
	OrderID    string           `json:"order_id"`
	OwnerID    string           `json:"owner_id"`
	Status     string           `json:"status"`
	TotalMinor int64            `json:"total_minor"`
	Items      []OrderEventItem `json:"items"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewOrderEventPayload снимает состояние заказа на момент фиксации мутации.
func NewOrderEventPayload(o Order) OrderEventPayload {
	items := make([]OrderEventItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderEventItem{
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return OrderEventPayload{
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     string(o.Status),
		TotalMinor: o.TotalMinor,
		Items:      items,
		OccurredAt: time.Now().UTC(),
	}
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository позволяет сохранять события для последующей публикации.
// Enqueue вызывается внутри unit of work мутации, чтобы событие фиксировалось
// той же транзакцией, что и изменение данных.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}
