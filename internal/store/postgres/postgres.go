package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, store_id, name, category, price_rupiah, stock, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.StoreID, &p.Name, &p.Category, &p.PriceRupiah, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceRupiah < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, store_id, name, category, price_rupiah, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.SKU, product.StoreID, product.Name, product.Category, product.PriceRupiah, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, store_id, name, category, price_rupiah, stock, active
		FROM products
		WHERE sku = $1
	`, sku).Scan(&product.SKU, &product.StoreID, &product.Name, &product.Category, &product.PriceRupiah, &product.Stock, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceRupiah < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_rupiah = $4, stock = $5, active = $6, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.PriceRupiah, product.Stock, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, store_id, name, category, price_rupiah, stock, active
		FROM products
		WHERE active = true AND sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.StoreID, &p.Name, &p.Category, &p.PriceRupiah, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateCheckout settles the sale in a single serializable transaction.
// Product rows are locked FOR UPDATE before the stock check, so two
// concurrent checkouts for the last unit cannot both succeed.
func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	skus := uniqueSKUs(tx.Items)
	if len(skus) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT sku, name, price_rupiah, stock
		FROM products
		WHERE active = true AND sku = ANY($1)
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}
	productMap := make(map[string]domain.Product, len(skus))
	for productRows.Next() {
		var p domain.Product
		if err := productRows.Scan(&p.SKU, &p.Name, &p.PriceRupiah, &p.Stock); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		p.Active = true
		productMap[p.SKU] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	subtotal := int64(0)
	recomputedItems := make([]domain.TransactionLine, 0, len(tx.Items))
	for _, item := range tx.Items {
		product, exists := productMap[item.SKU]
		if !exists {
			return nil, fmt.Errorf("sku %s unavailable", item.SKU)
		}
		if product.Stock < item.Qty {
			return nil, fmt.Errorf("%w: sku %s", store.ErrInsufficientStock, item.SKU)
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE sku = $2
		`, item.Qty, item.SKU)
		if err != nil {
			return nil, err
		}

		lineTotal := product.PriceRupiah * int64(item.Qty)
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

	if tx.Tender == domain.TenderCash {
		if tx.CashReceivedRupiah < total {
			return nil, store.ErrInsufficientCash
		}
		tx.ChangeRupiah = tx.CashReceivedRupiah - total
	} else {
		tx.CashReceivedRupiah = 0
		tx.ChangeRupiah = 0
	}

	tx.SubtotalRupiah = subtotal
	tx.TotalRupiah = total
	tx.Items = recomputedItems
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusPaid
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, store_id, terminal_id, tender, tender_reference,
			subtotal_rupiah, discount_rupiah, total_rupiah,
			cash_received_rupiah, change_rupiah,
			voucher_code, voucher_kind, voucher_value,
			status, cashier_username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, tx.ID, tx.StoreID, tx.TerminalID, string(tx.Tender), nullIfEmpty(tx.TenderReference),
		tx.SubtotalRupiah, tx.DiscountRupiah, tx.TotalRupiah,
		tx.CashReceivedRupiah, tx.ChangeRupiah,
		nullIfEmpty(tx.VoucherCode), nullIfEmpty(string(tx.VoucherKind)), tx.VoucherValue,
		tx.Status, tx.CashierUsername, tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, sku, name, qty, unit_price_rupiah, line_total_rupiah)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, item.SKU, item.Name, item.Qty, item.UnitPriceRupiah, item.LineTotalRupiah)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var tender string
	var tenderReference sql.NullString
	var voucherCode sql.NullString
	var voucherKind sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, tender, tender_reference,
			subtotal_rupiah, discount_rupiah, total_rupiah,
			cash_received_rupiah, change_rupiah,
			voucher_code, voucher_kind, voucher_value,
			status, cashier_username, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(
		&tx.ID,
		&tx.StoreID,
		&tx.TerminalID,
		&tender,
		&tenderReference,
		&tx.SubtotalRupiah,
		&tx.DiscountRupiah,
		&tx.TotalRupiah,
		&tx.CashReceivedRupiah,
		&tx.ChangeRupiah,
		&voucherCode,
		&voucherKind,
		&tx.VoucherValue,
		&tx.Status,
		&tx.CashierUsername,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.Tender = domain.Tender(tender)
	if tenderReference.Valid {
		tx.TenderReference = tenderReference.String
	}
	if voucherCode.Valid {
		tx.VoucherCode = voucherCode.String
	}
	if voucherKind.Valid {
		tx.VoucherKind = domain.VoucherKind(voucherKind.String)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	items, err := s.transactionItems(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = items

	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, terminal_id, tender, tender_reference,
			subtotal_rupiah, discount_rupiah, total_rupiah,
			cash_received_rupiah, change_rupiah,
			voucher_code, voucher_kind, voucher_value,
			status, cashier_username, created_at
		FROM transactions
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		var tx domain.Transaction
		var tender string
		var tenderReference sql.NullString
		var voucherCode sql.NullString
		var voucherKind sql.NullString
		if err := rows.Scan(
			&tx.ID,
			&tx.StoreID,
			&tx.TerminalID,
			&tender,
			&tenderReference,
			&tx.SubtotalRupiah,
			&tx.DiscountRupiah,
			&tx.TotalRupiah,
			&tx.CashReceivedRupiah,
			&tx.ChangeRupiah,
			&voucherCode,
			&voucherKind,
			&tx.VoucherValue,
			&tx.Status,
			&tx.CashierUsername,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.Tender = domain.Tender(tender)
		if tenderReference.Valid {
			tx.TenderReference = tenderReference.String
		}
		if voucherCode.Valid {
			tx.VoucherCode = voucherCode.String
		}
		if voucherKind.Valid {
			tx.VoucherKind = domain.VoucherKind(voucherKind.String)
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		items, err := s.transactionItems(ctx, transactions[i].ID)
		if err != nil {
			return nil, err
		}
		transactions[i].Items = items
	}

	return transactions, nil
}

func (s *Store) transactionItems(ctx context.Context, transactionID string) ([]domain.TransactionLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, qty, unit_price_rupiah, line_total_rupiah
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionLine, 0, 8)
	for rows.Next() {
		var item domain.TransactionLine
		if err := rows.Scan(&item.SKU, &item.Name, &item.Qty, &item.UnitPriceRupiah, &item.LineTotalRupiah); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	var v domain.Voucher
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT code, kind, value, min_purchase_rupiah, active, created_at
		FROM vouchers
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&v.Code, &kind, &v.Value, &v.MinPurchaseRupiah, &v.Active, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	v.Kind = domain.VoucherKind(kind)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func (s *Store) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, kind, value, min_purchase_rupiah, active, created_at
		FROM vouchers
		ORDER BY created_at ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vouchers := make([]domain.Voucher, 0, 16)
	for rows.Next() {
		var v domain.Voucher
		var kind string
		if err := rows.Scan(&v.Code, &kind, &v.Value, &v.MinPurchaseRupiah, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Kind = domain.VoucherKind(kind)
		v.CreatedAt = v.CreatedAt.UTC()
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vouchers, nil
}

func (s *Store) CreateVoucher(ctx context.Context, v domain.Voucher) (*domain.Voucher, error) {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	if v.Code == "" || !v.Kind.Valid() || v.Value < 1 || v.MinPurchaseRupiah < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if v.Kind == domain.VoucherPercentage && v.Value > 100 {
		return nil, store.ErrInvalidTransaction
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouchers (code, kind, value, min_purchase_rupiah, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, v.Code, string(v.Kind), v.Value, v.MinPurchaseRupiah, v.Active, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := v
	return &created, nil
}

func (s *Store) UpdateVoucherActive(ctx context.Context, code string, active bool) (*domain.Voucher, error) {
	var v domain.Voucher
	var kind string
	err := s.db.QueryRowContext(ctx, `
		UPDATE vouchers
		SET active = $2, updated_at = now()
		WHERE code = $1
		RETURNING code, kind, value, min_purchase_rupiah, active, created_at
	`, strings.ToUpper(strings.TrimSpace(code)), active).Scan(&v.Code, &kind, &v.Value, &v.MinPurchaseRupiah, &v.Active, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	v.Kind = domain.VoucherKind(kind)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mergeLines sums duplicate SKUs into one line each (first-seen order), so the
// stock check and decrement see the full quantity asked per product.
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

func uniqueSKUs(items []domain.TransactionLine) []string {
	if len(items) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.SKU == "" {
			continue
		}
		set[item.SKU] = struct{}{}
	}

	skus := make([]string, 0, len(set))
	for sku := range set {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
