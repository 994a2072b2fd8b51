package cart

import (
	"errors"
	"testing"

	"warungpos/backend/internal/domain"
)

func testProduct(sku string, price int64) domain.Product {
	return domain.Product{SKU: sku, Name: sku, PriceRupiah: price, Stock: 10, Active: true}
}

func TestAddMergesDuplicateSKU(t *testing.T) {
	c := New()
	if err := c.Add(testProduct("SKU-COFFEE", 25000), 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Add(testProduct("SKU-COFFEE", 25000), 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected one merged line, got %d", len(lines))
	}
	if lines[0].Qty != 3 {
		t.Fatalf("expected qty 3, got %d", lines[0].Qty)
	}
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	c := New()
	_ = c.Add(testProduct("SKU-PIZZA", 89000), 1)
	_ = c.Add(testProduct("SKU-COFFEE", 25000), 1)
	_ = c.Add(testProduct("SKU-PIZZA", 89000), 1)
	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Product.SKU != "SKU-PIZZA" || lines[1].Product.SKU != "SKU-COFFEE" {
		t.Fatalf("unexpected order: %s, %s", lines[0].Product.SKU, lines[1].Product.SKU)
	}
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	c := New()
	_ = c.Add(testProduct("SKU-SALAD", 35000), 2)
	if err := c.SetQuantity("SKU-SALAD", 0); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if len(c.Lines()) != 0 {
		t.Fatal("expected empty cart after setting quantity to zero")
	}
}

func TestSetQuantityNegativeRejected(t *testing.T) {
	c := New()
	_ = c.Add(testProduct("SKU-BURGER", 45000), 2)
	err := c.SetQuantity("SKU-BURGER", -1)
	if !errors.Is(err, ErrNegativeQuantity) {
		t.Fatalf("expected ErrNegativeQuantity, got %v", err)
	}
	lines := c.Lines()
	if len(lines) != 1 || lines[0].Qty != 2 {
		t.Fatal("cart must not change on rejected quantity")
	}
}

func TestSetQuantityUnknownSKU(t *testing.T) {
	c := New()
	if err := c.SetQuantity("SKU-NOPE", 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestSubtotalAndItemCount(t *testing.T) {
	c := New()
	_ = c.Add(testProduct("SKU-COFFEE", 25000), 2)
	_ = c.Add(testProduct("SKU-BURGER", 45000), 1)
	if got := c.SubtotalRupiah(); got != 95000 {
		t.Fatalf("expected subtotal 95000, got %d", got)
	}
	if got := c.ItemCount(); got != 3 {
		t.Fatalf("expected item count 3, got %d", got)
	}
}

func TestClear(t *testing.T) {
	c := New()
	_ = c.Add(testProduct("SKU-COFFEE", 25000), 2)
	c.Clear()
	if len(c.Lines()) != 0 || c.SubtotalRupiah() != 0 {
		t.Fatal("expected empty cart after clear")
	}
}

func TestNormalizeMergesAndDrops(t *testing.T) {
	items, err := Normalize([]domain.CartItem{
		{SKU: "SKU-COFFEE", Qty: 1},
		{SKU: "SKU-BURGER", Qty: 0},
		{SKU: "SKU-COFFEE", Qty: 2},
		{SKU: "", Qty: 5},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].SKU != "SKU-COFFEE" || items[0].Qty != 3 {
		t.Fatalf("unexpected item %+v", items[0])
	}
}

func TestNormalizeRejectsNegative(t *testing.T) {
	_, err := Normalize([]domain.CartItem{{SKU: "SKU-COFFEE", Qty: -2}})
	if !errors.Is(err, ErrNegativeQuantity) {
		t.Fatalf("expected ErrNegativeQuantity, got %v", err)
	}
}
