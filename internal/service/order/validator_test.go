package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func testCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"product-1": {ID: "product-1", Name: "Keyboard", PriceMinor: 50, Stock: 10},
		"product-2": {ID: "product-2", Name: "Mouse", PriceMinor: 30, Stock: 5},
	}
}

func TestValidator_ValidateCreate_PricesFromCatalog(t *testing.T) {
	var v Validator

	result, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-1", Qty: 2},
	}, testCatalog())
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.TotalMinor)
	require.Len(t, result.Items, 1)
	assert.Equal(t, int64(50), result.Items[0].PriceMinor)
	assert.Equal(t, map[string]int32{"product-1": -2}, result.Deltas)
}

func TestValidator_ValidateCreate_UnknownProduct(t *testing.T) {
	var v Validator

	_, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-1", Qty: 1},
		{ProductID: "ghost", Qty: 1},
	}, testCatalog())

	nf, ok := domain.IsProductNotFound(err)
	require.True(t, ok, "expected ProductNotFoundError, got %v", err)
	assert.Equal(t, "ghost", nf.ProductID)
}

func TestValidator_ValidateCreate_InsufficientStock(t *testing.T) {
	var v Validator

	_, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-1", Qty: 11},
	}, testCatalog())

	is, ok := domain.IsInsufficientStock(err)
	require.True(t, ok, "expected InsufficientStockError, got %v", err)
	assert.Equal(t, "product-1", is.ProductID)
}

func TestValidator_ValidateCreate_DuplicatesConsumeCumulatively(t *testing.T) {
	var v Validator

	// 6 + 6 = 12 > 10: вторая позиция того же товара должна видеть
	// остаток уже уменьшенным первой.
	_, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-1", Qty: 6},
		{ProductID: "product-1", Qty: 6},
	}, testCatalog())

	_, ok := domain.IsInsufficientStock(err)
	require.True(t, ok, "expected InsufficientStockError, got %v", err)

	result, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-1", Qty: 6},
		{ProductID: "product-1", Qty: 4},
	}, testCatalog())
	require.NoError(t, err)
	assert.Equal(t, map[string]int32{"product-1": -10}, result.Deltas)
	assert.Equal(t, int64(500), result.TotalMinor)
}

func TestValidator_ValidateCreate_FailFastOrder(t *testing.T) {
	var v Validator

	// Первая непроходимая позиция определяет ошибку, даже если дальше
	// в запросе есть и несуществующий товар.
	_, err := v.ValidateCreate([]ItemRequest{
		{ProductID: "product-2", Qty: 6},
		{ProductID: "ghost", Qty: 1},
	}, testCatalog())

	_, ok := domain.IsInsufficientStock(err)
	assert.True(t, ok, "expected InsufficientStockError, got %v", err)
}

func TestValidator_ValidateUpdate_ReleasedStockCounts(t *testing.T) {
	var v Validator

	existing := []domain.OrderItem{
		{ID: "item-1", ProductID: "product-1", Qty: 8, PriceMinor: 50},
	}

	// Остаток 2, но заказ возвращает 8 — запрос на 10 выполним.
	result, err := v.ValidateUpdate(existing, []ItemRequest{
		{ProductID: "product-1", Qty: 10},
	}, map[string]domain.Product{
		"product-1": {ID: "product-1", PriceMinor: 50, Stock: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int32{"product-1": -2}, result.Deltas)
	assert.Equal(t, int64(500), result.TotalMinor)
}

func TestValidator_ValidateUpdate_SwapProducts(t *testing.T) {
	var v Validator

	existing := []domain.OrderItem{
		{ID: "item-1", ProductID: "product-1", Qty: 3, PriceMinor: 50},
	}

	result, err := v.ValidateUpdate(existing, []ItemRequest{
		{ProductID: "product-2", Qty: 2},
	}, testCatalog())
	require.NoError(t, err)

	// product-1 полностью возвращается, product-2 списывается.
	assert.Equal(t, map[string]int32{"product-1": 3, "product-2": -2}, result.Deltas)
	assert.Equal(t, int64(60), result.TotalMinor)
}

func TestValidator_ValidateUpdate_EmptyRequestReleasesEverything(t *testing.T) {
	var v Validator

	existing := []domain.OrderItem{
		{ID: "item-1", ProductID: "product-1", Qty: 4, PriceMinor: 50},
	}

	result, err := v.ValidateUpdate(existing, nil, testCatalog())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TotalMinor)
	assert.Empty(t, result.Items)
	assert.Equal(t, map[string]int32{"product-1": 4}, result.Deltas)
}
