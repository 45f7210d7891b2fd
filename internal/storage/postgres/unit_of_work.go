package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// unitOfWork привязывает репозитории к одной транзакции БД. После
// Commit или Rollback любой вызов репозитория возвращает
// domain.ErrUnitOfWorkClosed.
type unitOfWork struct {
	tx     *sql.Tx
	closed bool
}

func (u *unitOfWork) Products() domain.ProductRepository { return &productRepository{uow: u} }
func (u *unitOfWork) Orders() domain.OrderRepository     { return &orderRepository{uow: u} }
func (u *unitOfWork) Outbox() domain.OutboxRepository    { return &txOutboxRepository{uow: u} }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	u.closed = true

	if err := u.tx.Commit(); err != nil {
		if mapped := mapTxError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true

	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback unit of work: %w", err)
	}
	return nil
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
