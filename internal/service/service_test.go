package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/cart"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
	"warungpos/backend/internal/voucher"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopCatalogCache{}, 5*time.Second, "main-store")
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     "cashier",
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
	})
}

func TestCheckoutCashHappyPath(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		StoreID:            "main-store",
		TerminalID:         "terminal-a1",
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 100000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 2},
			{SKU: "SKU-SALAD-01", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.SubtotalRupiah != 85000 {
		t.Fatalf("expected subtotal 85000, got %d", resp.SubtotalRupiah)
	}
	if resp.TotalRupiah != 85000 {
		t.Fatalf("expected total 85000, got %d", resp.TotalRupiah)
	}
	if resp.ChangeRupiah != 15000 {
		t.Fatalf("expected change 15000, got %d", resp.ChangeRupiah)
	}
	if resp.Status != domain.TxStatusPaid {
		t.Fatalf("expected status paid, got %s", resp.Status)
	}
	if resp.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", resp.ItemCount)
	}
}

func TestCheckoutAppliesPercentageVoucher(t *testing.T) {
	svc := newTestService()

	// 3x burger = 135000 clears the SAVE10 minimum, 10% off.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 150000,
		VoucherCode:        "save10",
		CartItems: []domain.CartItem{
			{SKU: "SKU-BURGER-01", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.DiscountRupiah != 13500 {
		t.Fatalf("expected discount 13500, got %d", resp.DiscountRupiah)
	}
	if resp.TotalRupiah != 121500 {
		t.Fatalf("expected total 121500, got %d", resp.TotalRupiah)
	}
	if resp.VoucherCode != "SAVE10" {
		t.Fatalf("expected voucher code SAVE10, got %s", resp.VoucherCode)
	}
	if resp.VoucherKind != domain.VoucherPercentage {
		t.Fatalf("expected percentage voucher, got %s", resp.VoucherKind)
	}
}

func TestCheckoutAppliesFixedVoucher(t *testing.T) {
	svc := newTestService()

	// 3x pizza = 267000, DISC25K takes a flat 25000 off.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:          domain.TenderQRIS,
		TenderReference: "QRIS-REF-001",
		VoucherCode:     "DISC25K",
		CartItems: []domain.CartItem{
			{SKU: "SKU-PIZZA-01", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.DiscountRupiah != 25000 {
		t.Fatalf("expected discount 25000, got %d", resp.DiscountRupiah)
	}
	if resp.TotalRupiah != 242000 {
		t.Fatalf("expected total 242000, got %d", resp.TotalRupiah)
	}
	if resp.CashReceivedRupiah != 0 || resp.ChangeRupiah != 0 {
		t.Fatalf("non-cash checkout must not carry cash fields, got received=%d change=%d", resp.CashReceivedRupiah, resp.ChangeRupiah)
	}
}

func TestCheckoutVoucherBelowMinimumFailsWithoutSideEffects(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 100000,
		VoucherCode:        "SAVE10",
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 1},
		},
	})
	var minErr *voucher.MinPurchaseError
	if !errors.As(err, &minErr) {
		t.Fatalf("expected MinPurchaseError, got %v", err)
	}
	if minErr.RequiredRupiah != 100000 {
		t.Fatalf("expected required 100000, got %d", minErr.RequiredRupiah)
	}

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.SKU == "SKU-COFFEE-01" && p.Stock != 100 {
			t.Fatalf("failed checkout must not touch stock, got %d", p.Stock)
		}
	}
}

func TestCheckoutUnknownVoucherMatchesInactive(t *testing.T) {
	svc := newTestService()

	admin := adminCtx()
	if _, err := svc.SetVoucherActive(admin, "SAVE10", false); err != nil {
		t.Fatalf("toggle voucher failed: %v", err)
	}

	req := domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 200000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-BURGER-01", Qty: 3},
		},
	}

	req.VoucherCode = "NOPE99"
	_, errUnknown := svc.Checkout(cashierCtx(), req)
	req.VoucherCode = "SAVE10"
	_, errInactive := svc.Checkout(cashierCtx(), req)

	if !errors.Is(errUnknown, voucher.ErrNotFound) || !errors.Is(errInactive, voucher.ErrNotFound) {
		t.Fatalf("expected voucher not-found for both, got %v / %v", errUnknown, errInactive)
	}
	if errUnknown.Error() != errInactive.Error() {
		t.Fatalf("unknown and inactive codes must be indistinguishable: %q vs %q", errUnknown, errInactive)
	}
}

func TestCheckoutInsufficientCash(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 40000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-BURGER-01", Qty: 1},
		},
	})
	if !errors.Is(err, store.ErrInsufficientCash) {
		t.Fatalf("expected insufficient cash, got %v", err)
	}
}

func TestCheckoutInsufficientStockNamesSKU(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 10000000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-PIZZA-01", Qty: 31},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "SKU-PIZZA-01") {
		t.Fatalf("error should name the offending sku, got %q", err.Error())
	}
}

func TestCheckoutRejectsNegativeQuantity(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 100000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 2},
			{SKU: "SKU-COFFEE-01", Qty: -1},
		},
	})
	if !errors.Is(err, cart.ErrNegativeQuantity) {
		t.Fatalf("expected negative quantity error, got %v", err)
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 200000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 2},
			{SKU: "SKU-SALAD-01", Qty: 1},
			{SKU: "SKU-COFFEE-01", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.SubtotalRupiah != 160000 {
		t.Fatalf("expected subtotal 160000, got %d", resp.SubtotalRupiah)
	}

	tx, err := svc.GetTransaction(context.Background(), resp.TransactionID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if len(tx.Items) != 2 {
		t.Fatalf("expected 2 merged lines, got %d", len(tx.Items))
	}
	if tx.Items[0].SKU != "SKU-COFFEE-01" || tx.Items[0].Qty != 5 {
		t.Fatalf("expected first line SKU-COFFEE-01 x5, got %s x%d", tx.Items[0].SKU, tx.Items[0].Qty)
	}
}

func TestCheckoutNonCashSettlesWithoutReference(t *testing.T) {
	svc := newTestService()

	// Non-cash tenders are confirmed by the payment terminal, so a
	// reference is optional.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender: domain.TenderCard,
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TotalRupiah != 25000 {
		t.Fatalf("expected total 25000, got %d", resp.TotalRupiah)
	}
	if resp.CashReceivedRupiah != 0 || resp.ChangeRupiah != 0 {
		t.Fatalf("expected zero cash fields, got received=%d change=%d", resp.CashReceivedRupiah, resp.ChangeRupiah)
	}
}

func TestResolveVoucherPreviewDoesNotTouchStock(t *testing.T) {
	svc := newTestService()

	resp, err := svc.ResolveVoucher(context.Background(), domain.ResolveVoucherRequest{
		Code: "SAVE10",
		CartItems: []domain.CartItem{
			{SKU: "SKU-PIZZA-01", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resp.SubtotalRupiah != 178000 {
		t.Fatalf("expected subtotal 178000, got %d", resp.SubtotalRupiah)
	}
	if resp.DiscountRupiah != 17800 {
		t.Fatalf("expected discount 17800, got %d", resp.DiscountRupiah)
	}
	if resp.TotalRupiah != 160200 {
		t.Fatalf("expected total 160200, got %d", resp.TotalRupiah)
	}

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.SKU == "SKU-PIZZA-01" && p.Stock != 30 {
			t.Fatalf("resolve must not touch stock, got %d", p.Stock)
		}
	}
}

func TestTransactionHistoryMostRecentFirst(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	var ids []string
	for i := 0; i < 3; i++ {
		resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
			Tender:             domain.TenderCash,
			CashReceivedRupiah: 50000,
			CartItems: []domain.CartItem{
				{SKU: "SKU-COFFEE-01", Qty: 1},
			},
		})
		if err != nil {
			t.Fatalf("checkout %d failed: %v", i, err)
		}
		ids = append(ids, resp.TransactionID)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := svc.ListTransactions(context.Background(), "main-store", 10)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(list.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(list.Transactions))
	}
	if list.Transactions[0].ID != ids[2] {
		t.Fatalf("expected most recent first, got %s", list.Transactions[0].ID)
	}

	limited, err := svc.ListTransactions(context.Background(), "main-store", 2)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(limited.Transactions) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited.Transactions))
	}
}

func TestProductAdminRequiresRole(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		SKU:         "SKU-TEA-01",
		Name:        "Tea",
		Category:    "beverages",
		PriceRupiah: 12000,
	})
	if err == nil {
		t.Fatalf("expected cashier product create to fail")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          "sku-tea-01",
		Name:         "Tea",
		Category:     "beverages",
		PriceRupiah:  12000,
		InitialStock: 20,
	})
	if err != nil {
		t.Fatalf("admin product create failed: %v", err)
	}
	if created.SKU != "SKU-TEA-01" {
		t.Fatalf("expected uppercased sku, got %s", created.SKU)
	}
	if created.StoreID != "main-store" {
		t.Fatalf("expected product to carry the default store id, got %q", created.StoreID)
	}
}

func TestVoucherAdminLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateVoucher(ctx, domain.VoucherCreateRequest{
		Code:              "hemat5",
		Kind:              domain.VoucherPercentage,
		Value:             5,
		MinPurchaseRupiah: 50000,
	})
	if err != nil {
		t.Fatalf("create voucher failed: %v", err)
	}
	if created.Code != "HEMAT5" || !created.Active {
		t.Fatalf("expected active HEMAT5, got %s active=%t", created.Code, created.Active)
	}

	if _, err := svc.CreateVoucher(ctx, domain.VoucherCreateRequest{
		Code:  "HEMAT5",
		Kind:  domain.VoucherFixed,
		Value: 1000,
	}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate voucher error, got %v", err)
	}

	toggled, err := svc.SetVoucherActive(ctx, "HEMAT5", false)
	if err != nil {
		t.Fatalf("toggle voucher failed: %v", err)
	}
	if toggled.Active {
		t.Fatalf("expected voucher to be inactive")
	}
}

func TestBuildHardwareReceipt(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 150000,
		VoucherCode:        "SAVE10",
		CartItems: []domain.CartItem{
			{SKU: "SKU-BURGER-01", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	receipt, err := svc.BuildHardwareReceipt(context.Background(), domain.HardwareReceiptRequest{
		TransactionID: resp.TransactionID,
	})
	if err != nil {
		t.Fatalf("build receipt failed: %v", err)
	}
	if receipt.TransactionID != resp.TransactionID {
		t.Fatalf("receipt transaction mismatch")
	}
	if !strings.Contains(receipt.PreviewText, "SAVE10") {
		t.Fatalf("expected voucher on preview, got %q", receipt.PreviewText)
	}
	if !strings.Contains(receipt.PreviewText, "Total    : 121500") {
		t.Fatalf("expected total line, got %q", receipt.PreviewText)
	}

	raw, err := base64.StdEncoding.DecodeString(receipt.EscposBase64)
	if err != nil {
		t.Fatalf("escpos payload is not base64: %v", err)
	}
	if len(raw) < 4 || raw[0] != 0x1b || raw[1] != 0x40 {
		t.Fatalf("expected ESC @ prologue")
	}
	if raw[len(raw)-4] != 0x1d || raw[len(raw)-3] != 0x56 {
		t.Fatalf("expected cut command trailer")
	}
}

func TestCheckoutWritesAuditLog(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Tender:             domain.TenderCash,
		CashReceivedRupiah: 50000,
		CartItems: []domain.CartItem{
			{SKU: "SKU-COFFEE-01", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(context.Background(), "main-store", "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "checkout" && entry.EntityID == resp.TransactionID {
			found = true
			if entry.ActorUsername != "cashier" {
				t.Fatalf("expected cashier actor, got %s", entry.ActorUsername)
			}
		}
	}
	if !found {
		t.Fatalf("expected checkout audit entry")
	}
}
