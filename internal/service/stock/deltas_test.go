package stock_test

import (
	"reflect"
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
)

func TestDeltas(t *testing.T) {
	cases := []struct {
		name     string
		original map[string]int32
		proposed map[string]int32
		want     map[string]int32
	}{
		{
			name:     "fresh order consumes stock",
			original: map[string]int32{},
			proposed: map[string]int32{"product-1": 2},
			want:     map[string]int32{"product-1": -2},
		},
		{
			name:     "full release",
			original: map[string]int32{"product-1": 2},
			proposed: map[string]int32{},
			want:     map[string]int32{"product-1": 2},
		},
		{
			name:     "swap products",
			original: map[string]int32{"product-1": 2},
			proposed: map[string]int32{"product-2": 4},
			want:     map[string]int32{"product-1": 2, "product-2": -4},
		},
		{
			name:     "same quantity keeps zero entry",
			original: map[string]int32{"product-1": 3},
			proposed: map[string]int32{"product-1": 3},
			want:     map[string]int32{"product-1": 0},
		},
		{
			name:     "mixed increase and decrease",
			original: map[string]int32{"product-1": 5, "product-2": 1},
			proposed: map[string]int32{"product-1": 2, "product-3": 7},
			want:     map[string]int32{"product-1": 3, "product-2": 1, "product-3": -7},
		},
		{
			name:     "both empty",
			original: map[string]int32{},
			proposed: map[string]int32{},
			want:     map[string]int32{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stock.Deltas(tc.original, tc.proposed)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDeltas_Deterministic(t *testing.T) {
	original := map[string]int32{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	proposed := map[string]int32{"c": 1, "d": 9, "f": 2}

	first := stock.Deltas(original, proposed)
	for i := 0; i < 50; i++ {
		if got := stock.Deltas(original, proposed); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d diverged: %v vs %v", i, first, got)
		}
	}
}

func TestDeltas_DoesNotMutateInputs(t *testing.T) {
	original := map[string]int32{"product-1": 2}
	proposed := map[string]int32{"product-1": 5}

	_ = stock.Deltas(original, proposed)

	if original["product-1"] != 2 || proposed["product-1"] != 5 {
		t.Fatalf("inputs were mutated: %v / %v", original, proposed)
	}
}

func TestQuantities(t *testing.T) {
	items := []domain.OrderItem{
		{ProductID: "product-1", Qty: 2},
		{ProductID: "product-2", Qty: 1},
		{ProductID: "product-1", Qty: 3},
	}

	got := stock.Quantities(items)
	want := map[string]int32{"product-1": 5, "product-2": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if got := stock.Quantities(nil); len(got) != 0 {
		t.Fatalf("expected empty map for nil items, got %v", got)
	}
}
