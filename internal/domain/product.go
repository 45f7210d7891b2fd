package domain

import "time"

// Product описывает товарную позицию каталога с текущим остатком на складе.
// Каталогом владеет внешний сервис; здесь товар мутируется только
// корректировками остатка со стороны заказов.
type Product struct {
	// ID — внешний идентификатор товара.
	ID string
	// Name — человекочитаемое название (справочно, не участвует в логике).
	Name string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Stock — доступный остаток. Инвариант: Stock >= 0 в любой момент,
	// включая промежуточные состояния внутри unit of work.
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
