package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	vouchersByCode   map[string]domain.Voucher
	transactionsByID map[string]*domain.Transaction
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "SKU-COFFEE-01", StoreID: "main-store", Name: "Coffee", Category: "beverages", PriceRupiah: 25000, Stock: 100, Active: true},
		{SKU: "SKU-BURGER-01", StoreID: "main-store", Name: "Burger", Category: "fast_food", PriceRupiah: 45000, Stock: 50, Active: true},
		{SKU: "SKU-PIZZA-01", StoreID: "main-store", Name: "Pizza", Category: "fast_food", PriceRupiah: 89000, Stock: 30, Active: true},
		{SKU: "SKU-SALAD-01", StoreID: "main-store", Name: "Salad", Category: "healthy", PriceRupiah: 35000, Stock: 45, Active: true},
	}

	now := time.Now().UTC()
	vouchers := []domain.Voucher{
		{Code: "SAVE10", Kind: domain.VoucherPercentage, Value: 10, MinPurchaseRupiah: 100000, Active: true, CreatedAt: now},
		{Code: "DISC25K", Kind: domain.VoucherFixed, Value: 25000, MinPurchaseRupiah: 200000, Active: true, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
	}
	voucherMap := make(map[string]domain.Voucher, len(vouchers))
	for _, v := range vouchers {
		voucherMap[v.Code] = v
	}

	return &Store{
		products:         productMap,
		vouchersByCode:   voucherMap,
		transactionsByID: make(map[string]*domain.Transaction),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceRupiah < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrDuplicate
	}

	product.Active = true
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceRupiah < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.SKU]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok && p.Active {
			result[sku] = p
		}
	}
	return result, nil
}

// CreateCheckout is the settlement point: price recomputation, discount and
// cash validation, stock decrement and transaction append all happen under
// one write lock, so a failure at any step leaves stock and the log untouched.
func (s *Store) CreateCheckout(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if !tx.Tender.Valid() {
		return nil, store.ErrInvalidTransaction
	}

	merged, err := mergeLines(tx.Items)
	if err != nil {
		return nil, err
	}
	tx.Items = merged

	subtotal := int64(0)
	recomputedItems := make([]domain.TransactionLine, 0, len(tx.Items))
	for _, item := range tx.Items {
		product, exists := s.products[item.SKU]
		if !exists || !product.Active {
			return nil, fmt.Errorf("sku %s unavailable", item.SKU)
		}
		if product.Stock-item.Qty < 0 {
			return nil, fmt.Errorf("%w: sku %s", store.ErrInsufficientStock, item.SKU)
		}
		lineTotal := int64(item.Qty) * product.PriceRupiah
		recomputedItems = append(recomputedItems, domain.TransactionLine{
			SKU:             item.SKU,
			Name:            product.Name,
			Qty:             item.Qty,
			UnitPriceRupiah: product.PriceRupiah,
			LineTotalRupiah: lineTotal,
		})
		subtotal += lineTotal
	}

	if tx.DiscountRupiah < 0 || tx.DiscountRupiah > subtotal {
		return nil, store.ErrInvalidTransaction
	}

	total := subtotal - tx.DiscountRupiah

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Items = recomputedItems
	tx.SubtotalRupiah = subtotal
	tx.TotalRupiah = total
	if tx.Status == "" {
		tx.Status = domain.TxStatusPaid
	}

	if tx.Tender == domain.TenderCash {
		if tx.CashReceivedRupiah < tx.TotalRupiah {
			return nil, store.ErrInsufficientCash
		}
		tx.ChangeRupiah = tx.CashReceivedRupiah - tx.TotalRupiah
	} else {
		tx.CashReceivedRupiah = 0
		tx.ChangeRupiah = 0
	}

	for _, item := range tx.Items {
		product := s.products[item.SKU]
		product.Stock -= item.Qty
		s.products[item.SKU] = product
	}

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy

	return cloneTransaction(txCopy), nil
}

// mergeLines sums duplicate SKUs into one line each (first-seen order), so the
// stock check sees the full quantity asked per product.
func mergeLines(items []domain.TransactionLine) ([]domain.TransactionLine, error) {
	merged := make([]domain.TransactionLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if i, ok := index[item.SKU]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[item.SKU] = len(merged)
		merged = append(merged, domain.TransactionLine{SKU: item.SKU, Qty: item.Qty})
	}
	return merged, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		if storeID != "" && tx.StoreID != storeID {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}

	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetVoucherByCode(_ context.Context, code string) (*domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vouchersByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyVoucher := v
	return &copyVoucher, nil
}

func (s *Store) ListVouchers(_ context.Context) ([]domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vouchers := make([]domain.Voucher, 0, len(s.vouchersByCode))
	for _, v := range s.vouchersByCode {
		vouchers = append(vouchers, v)
	}
	slices.SortFunc(vouchers, func(a, b domain.Voucher) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Code, b.Code)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return vouchers, nil
}

func (s *Store) CreateVoucher(_ context.Context, v domain.Voucher) (*domain.Voucher, error) {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	if v.Code == "" || !v.Kind.Valid() || v.Value < 1 || v.MinPurchaseRupiah < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if v.Kind == domain.VoucherPercentage && v.Value > 100 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vouchersByCode[v.Code]; exists {
		return nil, store.ErrDuplicate
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Active = true
	s.vouchersByCode[v.Code] = v
	created := v
	return &created, nil
}

func (s *Store) UpdateVoucherActive(_ context.Context, code string, active bool) (*domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	v, exists := s.vouchersByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	v.Active = active
	s.vouchersByCode[code] = v
	copyVoucher := v
	return &copyVoucher, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionLine, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}
