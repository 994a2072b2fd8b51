package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
)

func TestCreateCheckoutSettlesAtomically(t *testing.T) {
	databaseURL := os.Getenv("WARUNGPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WARUNGPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-CHECKOUT-IT-%d", stamp)
	storeID := "main-store"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE store_id = $1 AND id IN (SELECT transaction_id FROM transaction_items WHERE sku = $2)`, storeID, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, store_id, name, category, price_rupiah, stock, active, created_at, updated_at)
		VALUES ($1, $2, 'Produk Checkout IT', 'snack', 12000, 5, true, now(), now())
	`, sku, storeID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	created, err := s.CreateCheckout(ctx, domain.Transaction{
		StoreID:            storeID,
		TerminalID:         "T-CHECKOUT-IT",
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 30000,
		CashierUsername:    "cashier",
		Items:              []domain.TransactionLine{{SKU: sku, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, created.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, created.ID)
	})

	if created.SubtotalRupiah != 24000 || created.TotalRupiah != 24000 {
		t.Fatalf("unexpected totals: subtotal %d total %d", created.SubtotalRupiah, created.TotalRupiah)
	}
	if created.ChangeRupiah != 6000 {
		t.Fatalf("expected change 6000, got %d", created.ChangeRupiah)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock
		FROM products
		WHERE sku = $1
	`, sku).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", stock)
	}

	// Over-ask the remaining stock; the settlement must roll back whole.
	_, err = s.CreateCheckout(ctx, domain.Transaction{
		StoreID:            storeID,
		TerminalID:         "T-CHECKOUT-IT",
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 100000,
		CashierUsername:    "cashier",
		Items:              []domain.TransactionLine{{SKU: sku, Qty: 4}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT stock
		FROM products
		WHERE sku = $1
	`, sku).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 3 {
		t.Fatalf("failed checkout must not change stock, got %d", stock)
	}

	found, err := s.FindTransactionByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if len(found.Items) != 1 || found.Items[0].Qty != 2 {
		t.Fatalf("unexpected stored items %+v", found.Items)
	}
}
