package order

import (
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
)

// ItemRequest — запрошенная позиция мутации заказа. Количество уже
// проверено транспортным слоем (>= 1), цена позиции клиентом не передаётся.
type ItemRequest struct {
	ProductID string
	Qty       int32
}

// PricedItem — позиция, прошедшая валидацию, с зафиксированной снимочной ценой.
type PricedItem struct {
	ProductID  string
	Qty        int32
	PriceMinor int64
}

// ValidationResult — результат успешной валидации мутации.
type ValidationResult struct {
	// TotalMinor — сумма заказа по снимочным ценам каталога.
	TotalMinor int64
	// Items — позиции в порядке запроса с ценами из каталога.
	Items []PricedItem
	// Deltas — подписанные дельты остатков productID -> delta,
	// вычисленные калькулятором пакета stock.
	Deltas map[string]int32
}

// Validator проверяет выполнимость мутации заказа против снимка каталога.
// Ошибки возвращаются fail-fast в порядке позиций запроса.
type Validator struct{}

// ValidateCreate проверяет позиции нового заказа: товар должен существовать
// в снимке каталога, а запрошенное количество — не превышать текущий остаток.
// Сумма накапливается по ценам снимка, не по ценам из запроса.
func (Validator) ValidateCreate(requested []ItemRequest, catalog map[string]domain.Product) (ValidationResult, error) {
	return validateAgainstCatalog(nil, requested, catalog)
}

// ValidateUpdate проверяет замену позиций существующего заказа. Доступный
// остаток считается с учётом резерва, возвращаемого этим же заказом:
// stock + released >= qty — «сначала вернуть старый резерв, потом взять новый»
// без двухфазной записи.
func (Validator) ValidateUpdate(existing []domain.OrderItem, requested []ItemRequest, catalog map[string]domain.Product) (ValidationResult, error) {
	return validateAgainstCatalog(existing, requested, catalog)
}

func validateAgainstCatalog(existing []domain.OrderItem, requested []ItemRequest, catalog map[string]domain.Product) (ValidationResult, error) {
	original := stock.Quantities(existing)

	// available накапливает поправку к остатку: стартует с количеств,
	// возвращаемых прежними позициями, и уменьшается по мере того, как
	// новые позиции разбирают остаток. Дубликаты товара в запросе
	// учитываются кумулятивно.
	available := make(map[string]int32, len(original))
	for productID, qty := range original {
		available[productID] = qty
	}

	proposed := make(map[string]int32, len(requested))
	items := make([]PricedItem, 0, len(requested))
	var total int64

	for _, req := range requested {
		product, ok := catalog[req.ProductID]
		if !ok {
			return ValidationResult{}, &domain.ProductNotFoundError{ProductID: req.ProductID}
		}

		if product.Stock+available[req.ProductID] < req.Qty {
			return ValidationResult{}, &domain.InsufficientStockError{ProductID: req.ProductID}
		}

		available[req.ProductID] -= req.Qty
		proposed[req.ProductID] += req.Qty
		total += int64(req.Qty) * product.PriceMinor
		items = append(items, PricedItem{
			ProductID:  req.ProductID,
			Qty:        req.Qty,
			PriceMinor: product.PriceMinor,
		})
	}

	return ValidationResult{
		TotalMinor: total,
		Items:      items,
		Deltas:     stock.Deltas(original, proposed),
	}, nil
}
