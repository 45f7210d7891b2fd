package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type orderRepository struct {
	uow *unitOfWork
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}

	_, err := r.uow.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, owner_id, status, total_minor, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		order.ID, order.OwnerID, string(order.Status), order.TotalMinor,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapTxError(err))
	}

	if err := r.insertItems(ctx, order.ID, order.Items); err != nil {
		return err
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, ownerID, orderID string) (domain.Order, error) {
	if r.uow.closed {
		return domain.Order{}, domain.ErrUnitOfWorkClosed
	}

	var order domain.Order
	var status string

	err := r.uow.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, status, total_minor, version, created_at, updated_at
		FROM orders
		WHERE id = $1
		  AND owner_id = $2
	`, orderID, ownerID).Scan(
		&order.ID, &order.OwnerID, &status, &order.TotalMinor,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", mapTxError(err))
	}
	order.Status = domain.OrderStatus(status)

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}

	query := `
		SELECT id, owner_id, status, total_minor, version, created_at, updated_at
		FROM orders
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.uow.tx.QueryContext(ctx, query+" LIMIT $2", ownerID, limit)
	} else {
		rows, err = r.uow.tx.QueryContext(ctx, query, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", mapTxError(err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		var status string
		if err := rows.Scan(
			&order.ID, &order.OwnerID, &status, &order.TotalMinor,
			&order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", mapTxError(err))
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// ReplaceItems целиком заменяет позиции заказа и обновляет сумму.
// Версия инкрементируется в самом UPDATE.
func (r *orderRepository) ReplaceItems(ctx context.Context, order domain.Order) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}

	res, err := r.uow.tx.ExecContext(ctx, `
		UPDATE orders
		SET total_minor = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND owner_id = $4
	`, order.TotalMinor, order.UpdatedAt, order.ID, order.OwnerID)
	if err != nil {
		return fmt.Errorf("update order: %w", mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	if _, err := r.uow.tx.ExecContext(ctx, `
		DELETE FROM order_items WHERE order_id = $1
	`, order.ID); err != nil {
		return fmt.Errorf("delete old order items: %w", mapTxError(err))
	}

	return r.insertItems(ctx, order.ID, order.Items)
}

func (r *orderRepository) Delete(ctx context.Context, ownerID, orderID string) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}

	// order_items удаляются каскадом по FK.
	res, err := r.uow.tx.ExecContext(ctx, `
		DELETE FROM orders
		WHERE id = $1
		  AND owner_id = $2
	`, orderID, ownerID)
	if err != nil {
		return fmt.Errorf("delete order: %w", mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *orderRepository) insertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	for _, item := range items {
		if _, err := r.uow.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, qty, price_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, orderID, item.ProductID, item.Qty, item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", mapTxError(err))
		}
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.uow.tx.QueryContext(ctx, `
		SELECT id, product_id, qty, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", mapTxError(err))
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", mapTxError(err))
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
