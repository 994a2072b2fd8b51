package cart

import (
	"errors"

	"warungpos/backend/internal/domain"
)

var (
	ErrNegativeQuantity = errors.New("cart: quantity must not be negative")
	ErrItemNotFound     = errors.New("cart: item not in cart")
)

type Line struct {
	Product domain.Product
	Qty     int
}

// Cart accumulates line items for a single register session. Lines keep
// insertion order; adding a SKU already in the cart merges into its line.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

func (c *Cart) Add(p domain.Product, qty int) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}
	if qty == 0 {
		return nil
	}
	for i := range c.lines {
		if c.lines[i].Product.SKU == p.SKU {
			c.lines[i].Qty += qty
			return nil
		}
	}
	c.lines = append(c.lines, Line{Product: p, Qty: qty})
	return nil
}

// SetQuantity replaces the quantity of an existing line. Zero removes the
// line, negative values are rejected without touching the cart.
func (c *Cart) SetQuantity(sku string, qty int) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}
	for i := range c.lines {
		if c.lines[i].Product.SKU == sku {
			if qty == 0 {
				c.lines = append(c.lines[:i], c.lines[i+1:]...)
				return nil
			}
			c.lines[i].Qty = qty
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) Remove(sku string) {
	for i := range c.lines {
		if c.lines[i].Product.SKU == sku {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) SubtotalRupiah() int64 {
	var subtotal int64
	for _, line := range c.lines {
		subtotal += line.Product.PriceRupiah * int64(line.Qty)
	}
	return subtotal
}

func (c *Cart) ItemCount() int {
	var count int
	for _, line := range c.lines {
		count += line.Qty
	}
	return count
}

func (c *Cart) Items() []domain.CartItem {
	items := make([]domain.CartItem, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, domain.CartItem{SKU: line.Product.SKU, Qty: line.Qty})
	}
	return items
}

// Normalize merges duplicate SKUs in request order, drops zero-quantity
// entries and rejects negative quantities.
func Normalize(items []domain.CartItem) ([]domain.CartItem, error) {
	merged := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.SKU == "" {
			continue
		}
		if item.Qty < 0 {
			return nil, ErrNegativeQuantity
		}
		if item.Qty == 0 {
			continue
		}
		if _, ok := merged[item.SKU]; !ok {
			order = append(order, item.SKU)
		}
		merged[item.SKU] += item.Qty
	}
	out := make([]domain.CartItem, 0, len(order))
	for _, sku := range order {
		out = append(out, domain.CartItem{SKU: sku, Qty: merged[sku]})
	}
	return out, nil
}
