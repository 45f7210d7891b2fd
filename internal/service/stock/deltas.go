// Пакет stock содержит чистую арифметику пересчёта остатков между старым
// и новым набором позиций заказа. Никаких побочных эффектов: результат
// зависит только от входных наборов.
package stock

import "github.com/vladislavdragonenkov/shop/internal/domain"

// Quantities агрегирует позиции заказа в отображение productID -> суммарное количество.
func Quantities(items []domain.OrderItem) map[string]int32 {
	result := make(map[string]int32, len(items))
	for _, item := range items {
		result[item.ProductID] += item.Qty
	}
	return result
}

// Deltas вычисляет подписанные дельты остатков между исходным набором
// original и предлагаемым набором proposed: delta = original[p] - proposed[p]
// для каждого товара, встречающегося хотя бы в одном наборе (отсутствие
// трактуется как 0). Положительная дельта означает возврат остатка в пул,
// отрицательная — потребление. Результат детерминирован и не зависит от
// порядка обхода map.
func Deltas(original, proposed map[string]int32) map[string]int32 {
	result := make(map[string]int32, len(original)+len(proposed))

	for productID, qty := range original {
		result[productID] = qty
	}
	for productID, qty := range proposed {
		result[productID] -= qty
	}

	return result
}
