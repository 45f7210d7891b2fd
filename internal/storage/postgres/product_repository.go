package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	uow *unitOfWork
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if r.uow.closed {
		return domain.Product{}, domain.ErrUnitOfWorkClosed
	}

	var product domain.Product
	err := r.uow.tx.QueryRowContext(ctx, `
		SELECT id, name, price_minor, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.PriceMinor, &product.Stock,
		&product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", mapTxError(err))
	}

	return product, nil
}

func (r *productRepository) GetBatch(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if r.uow.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	// pgx передаёт []string как text[] напрямую.
	rows, err := r.uow.tx.QueryContext(ctx, `
		SELECT id, name, price_minor, stock, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products batch: %w", mapTxError(err))
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(
			&product.ID, &product.Name, &product.PriceMinor, &product.Stock,
			&product.CreatedAt, &product.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", mapTxError(err))
	}

	return result, nil
}

// AdjustStock применяет относительную дельту с охранным условием в самом
// запросе: stock + delta >= 0. Ноль затронутых строк означает либо
// отсутствие товара, либо нехватку остатка — различаем отдельным SELECT.
func (r *productRepository) AdjustStock(ctx context.Context, productID string, delta int32) error {
	if r.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}

	res, err := r.uow.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1,
		    updated_at = $2
		WHERE id = $3
		  AND stock + $1 >= 0
	`, delta, time.Now().UTC(), productID)
	if err != nil {
		return fmt.Errorf("adjust product stock: %w", mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.productExists(ctx, productID)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.ProductNotFoundError{ProductID: productID}
		}
		return domain.ErrStockConflict
	}

	return nil
}

func (r *productRepository) productExists(ctx context.Context, productID string) (bool, error) {
	var id string
	err := r.uow.tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", mapTxError(err))
}

var _ domain.ProductRepository = (*productRepository)(nil)
