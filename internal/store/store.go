package store

import (
	"context"
	"errors"
	"time"

	"warungpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("already exists")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error)
	GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error)
	ListVouchers(ctx context.Context) ([]domain.Voucher, error)
	CreateVoucher(ctx context.Context, v domain.Voucher) (*domain.Voucher, error)
	UpdateVoucherActive(ctx context.Context, code string, active bool) (*domain.Voucher, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
