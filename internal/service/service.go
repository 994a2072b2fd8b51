package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/cart"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/voucher"
	"warungpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	catalog        cache.CatalogCache
	catalogTTL     time.Duration
	defaultStoreID string
}

func New(repo store.Repository, catalog cache.CatalogCache, catalogTTL time.Duration, defaultStoreID string) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL < time.Second {
		catalogTTL = 30 * time.Second
	}
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}

	return &Service{
		repo:           repo,
		catalog:        catalog,
		catalogTTL:     catalogTTL,
		defaultStoreID: defaultStoreID,
	}
}

const catalogCacheKey = "catalog:active"

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, ok, err := s.catalog.Get(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, catalogCacheKey, products, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PriceRupiah < 1 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	product := domain.Product{
		SKU:         req.SKU,
		StoreID:     req.StoreID,
		Name:        req.Name,
		Category:    req.Category,
		PriceRupiah: req.PriceRupiah,
		Stock:       req.InitialStock,
		Active:      true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, req.StoreID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceRupiah, created.Stock))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Category = category
	}
	if req.PriceRupiah != nil {
		if *req.PriceRupiah < 1 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.PriceRupiah = *req.PriceRupiah
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Stock = *req.Stock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, s.defaultStoreID, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%d,stock=%d", saved.Active, saved.PriceRupiah, saved.Stock))

	return *saved, nil
}

// ResolveVoucher re-validates the code against the live cart: the subtotal
// is recomputed from current prices, never trusted from the client.
func (s *Service) ResolveVoucher(ctx context.Context, req domain.ResolveVoucherRequest) (domain.ResolveVoucherResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.ResolveVoucherResponse{}, voucher.ErrNotFound
	}

	normalized, err := cart.Normalize(req.CartItems)
	if err != nil {
		return domain.ResolveVoucherResponse{}, err
	}
	if len(normalized) == 0 {
		return domain.ResolveVoucherResponse{}, store.ErrInvalidTransaction
	}

	subtotal, _, err := s.priceItems(ctx, normalized)
	if err != nil {
		return domain.ResolveVoucherResponse{}, err
	}

	v, err := s.findVoucher(ctx, code)
	if err != nil {
		return domain.ResolveVoucherResponse{}, err
	}

	discount, err := voucher.Resolve(v, subtotal)
	if err != nil {
		return domain.ResolveVoucherResponse{}, err
	}

	return domain.ResolveVoucherResponse{
		Code:           v.Code,
		Kind:           v.Kind,
		Value:          v.Value,
		SubtotalRupiah: subtotal,
		DiscountRupiah: discount,
		TotalRupiah:    subtotal - discount,
	}, nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if req.Tender == "" {
		req.Tender = domain.TenderCash
	}
	if !req.Tender.Valid() {
		return domain.CheckoutResponse{}, store.ErrInvalidTransaction
	}

	normalized, err := cart.Normalize(req.CartItems)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(normalized) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidTransaction
	}

	subtotal, _, err := s.priceItems(ctx, normalized)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	// Resolve the voucher against the priced cart before anything is
	// committed, so a stale code fails the checkout without side effects.
	var discount int64
	var appliedVoucher *domain.Voucher
	if code := strings.ToUpper(strings.TrimSpace(req.VoucherCode)); code != "" {
		v, err := s.findVoucher(ctx, code)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		discount, err = voucher.Resolve(v, subtotal)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		appliedVoucher = v
	}

	total := subtotal - discount

	// Non-cash tenders settle externally and are treated as confirmed;
	// only cash needs the received amount to cover the total.
	if req.Tender == domain.TenderCash && req.CashReceivedRupiah < total {
		return domain.CheckoutResponse{}, store.ErrInsufficientCash
	}

	lineItems := make([]domain.TransactionLine, 0, len(normalized))
	for _, item := range normalized {
		lineItems = append(lineItems, domain.TransactionLine{SKU: item.SKU, Qty: item.Qty})
	}

	actor, _ := ActorFromContext(ctx)

	tx := domain.Transaction{
		ID:                 xid.New("tx"),
		StoreID:            req.StoreID,
		TerminalID:         req.TerminalID,
		Tender:             req.Tender,
		TenderReference:    req.TenderReference,
		CashReceivedRupiah: req.CashReceivedRupiah,
		DiscountRupiah:     discount,
		Status:             domain.TxStatusPaid,
		CashierUsername:    actor.Username,
		CreatedAt:          time.Now().UTC(),
		Items:              lineItems,
	}
	if appliedVoucher != nil {
		tx.VoucherCode = appliedVoucher.Code
		tx.VoucherKind = appliedVoucher.Kind
		tx.VoucherValue = appliedVoucher.Value
	}

	created, err := s.repo.CreateCheckout(ctx, tx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(
		ctx,
		req.StoreID,
		"checkout",
		"transaction",
		created.ID,
		fmt.Sprintf(
			"total=%d,tender=%s,discount=%d,voucher=%s",
			created.TotalRupiah,
			created.Tender,
			created.DiscountRupiah,
			created.VoucherCode,
		),
	)

	return toCheckoutResponse(created), nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, storeID string, limit int) (domain.TransactionListResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}
	transactions, err := s.repo.ListTransactions(ctx, storeID, limit)
	if err != nil {
		return domain.TransactionListResponse{}, err
	}
	return domain.TransactionListResponse{Transactions: transactions}, nil
}

func (s *Service) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	return s.repo.ListVouchers(ctx)
}

func (s *Service) CreateVoucher(ctx context.Context, req domain.VoucherCreateRequest) (domain.Voucher, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Voucher{}, fmt.Errorf("admin role required")
	}

	created, err := s.repo.CreateVoucher(ctx, domain.Voucher{
		Code:              req.Code,
		Kind:              req.Kind,
		Value:             req.Value,
		MinPurchaseRupiah: req.MinPurchaseRupiah,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return domain.Voucher{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "voucher_create", "voucher", created.Code, fmt.Sprintf("kind=%s,value=%d,min_purchase=%d", created.Kind, created.Value, created.MinPurchaseRupiah))
	return *created, nil
}

func (s *Service) SetVoucherActive(ctx context.Context, code string, active bool) (domain.Voucher, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Voucher{}, fmt.Errorf("admin role required")
	}

	updated, err := s.repo.UpdateVoucherActive(ctx, code, active)
	if err != nil {
		return domain.Voucher{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "voucher_toggle", "voucher", updated.Code, fmt.Sprintf("active=%t", updated.Active))
	return *updated, nil
}

func (s *Service) BuildHardwareReceipt(ctx context.Context, req domain.HardwareReceiptRequest) (domain.HardwareReceiptResponse, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return domain.HardwareReceiptResponse{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransactionByID(ctx, req.TransactionID)
	if err != nil {
		return domain.HardwareReceiptResponse{}, err
	}

	lines := []string{
		"WarungPOS",
		"========================",
		"TX: " + tx.ID,
		"Store: " + tx.StoreID,
		"Terminal: " + tx.TerminalID,
		"Date: " + tx.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, item := range tx.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Qty))
		lines = append(lines, fmt.Sprintf("  %d", item.LineTotalRupiah))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %d", tx.SubtotalRupiah),
	)
	if tx.VoucherCode != "" {
		lines = append(lines, fmt.Sprintf("Voucher  : %s", tx.VoucherCode))
	}
	lines = append(lines,
		fmt.Sprintf("Diskon   : %d", tx.DiscountRupiah),
		fmt.Sprintf("Total    : %d", tx.TotalRupiah),
	)
	if tx.Tender == domain.TenderCash {
		lines = append(lines,
			fmt.Sprintf("Bayar    : %d", tx.CashReceivedRupiah),
			fmt.Sprintf("Kembali  : %d", tx.ChangeRupiah),
		)
	} else {
		lines = append(lines, fmt.Sprintf("Bayar    : %s", tx.Tender))
	}
	lines = append(lines,
		"========================",
		"Terima kasih",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.HardwareReceiptResponse{
		TransactionID: tx.ID,
		EscposBase64:  base64.StdEncoding.EncodeToString(escpos),
		PreviewText:   strings.Join(lines, "\n"),
		FileName:      fmt.Sprintf("receipt-%s.bin", tx.ID),
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// priceItems recomputes the subtotal from the current catalog and returns
// the products it priced against.
func (s *Service) priceItems(ctx context.Context, items []domain.CartItem) (int64, map[string]domain.Product, error) {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return 0, nil, err
	}

	subtotal := int64(0)
	for _, item := range items {
		product, exists := products[item.SKU]
		if !exists {
			return 0, nil, store.ErrInvalidTransaction
		}
		subtotal += int64(item.Qty) * product.PriceRupiah
	}
	return subtotal, products, nil
}

// findVoucher maps a missing repository row to the resolver's not-found
// error, so absent and inactive codes are indistinguishable to the caller.
func (s *Service) findVoucher(ctx context.Context, code string) (*domain.Voucher, error) {
	v, err := s.repo.GetVoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, voucher.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidate failed: %v", err)
	}
}

func toCheckoutResponse(tx *domain.Transaction) domain.CheckoutResponse {
	itemCount := 0
	for _, item := range tx.Items {
		itemCount += item.Qty
	}

	return domain.CheckoutResponse{
		TransactionID:      tx.ID,
		Status:             tx.Status,
		Tender:             tx.Tender,
		SubtotalRupiah:     tx.SubtotalRupiah,
		DiscountRupiah:     tx.DiscountRupiah,
		TotalRupiah:        tx.TotalRupiah,
		CashReceivedRupiah: tx.CashReceivedRupiah,
		ChangeRupiah:       tx.ChangeRupiah,
		VoucherCode:        tx.VoucherCode,
		VoucherKind:        tx.VoucherKind,
		ItemCount:          itemCount,
		CreatedAt:          tx.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
