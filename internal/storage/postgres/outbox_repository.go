package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultOutboxPullLimit = 100

// txOutboxRepository пишет события в outbox транзакцией мутации:
// событие фиксируется только вместе с изменением данных.
type txOutboxRepository struct {
	uow *unitOfWork
}

func (r *txOutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if r.uow.closed {
		return domain.OutboxMessage{}, domain.ErrUnitOfWorkClosed
	}
	return enqueueOutbox(ctx, r.uow.tx, msg)
}

func (r *txOutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	return pullPendingOutbox(ctx, r.uow.tx, limit)
}

func (r *txOutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if r.uow.closed {
		return domain.OutboxStats{}, domain.ErrUnitOfWorkClosed
	}
	return outboxStats(ctx, r.uow.tx)
}

func (r *txOutboxRepository) MarkSent(ctx context.Context, id string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	return markOutboxStatus(ctx, r.uow.tx, id, "sent")
}

func (r *txOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	return markOutboxStatus(ctx, r.uow.tx, id, "failed")
}

// outboxRepository работает напрямую через пул подключений — для
// outbox-воркера, действующего вне unit of work.
type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт standalone PostgreSQL-реализацию
// OutboxRepository для воркера публикации.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return enqueueOutbox(ctx, r.db, msg)
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return pullPendingOutbox(ctx, r.db, limit)
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	return outboxStats(ctx, r.db)
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return markOutboxStatus(ctx, r.db, id, "sent")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return markOutboxStatus(ctx, r.db, id, "failed")
}

// querier покрывает и *sql.DB, и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func enqueueOutbox(ctx context.Context, q querier, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", mapTxError(err))
	}

	return msg, nil
}

func pullPendingOutbox(ctx context.Context, q querier, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", mapTxError(err))
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", mapTxError(err))
	}

	return result, nil
}

func outboxStats(ctx context.Context, q querier) (domain.OutboxStats, error) {
	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", mapTxError(err))
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func markOutboxStatus(ctx context.Context, q querier, id, status string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}

	return nil
}

var (
	_ domain.OutboxRepository = (*txOutboxRepository)(nil)
	_ domain.OutboxRepository = (*outboxRepository)(nil)
)
