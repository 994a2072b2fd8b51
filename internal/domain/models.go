package domain

import "time"

type Product struct {
	SKU         string `json:"sku"`
	StoreID     string `json:"store_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	PriceRupiah int64  `json:"price_rupiah"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
}

type ProductCreateRequest struct {
	StoreID      string `json:"store_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceRupiah  int64  `json:"price_rupiah"`
	InitialStock int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	PriceRupiah *int64  `json:"price_rupiah,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type CartItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// VoucherKind is the closed set of discount shapes a voucher can carry.
type VoucherKind string

const (
	VoucherPercentage VoucherKind = "percentage"
	VoucherFixed      VoucherKind = "fixed"
)

func (k VoucherKind) Valid() bool {
	switch k {
	case VoucherPercentage, VoucherFixed:
		return true
	}
	return false
}

type Voucher struct {
	Code              string      `json:"code"`
	Kind              VoucherKind `json:"kind"`
	Value             int64       `json:"value"`
	MinPurchaseRupiah int64       `json:"min_purchase_rupiah"`
	Active            bool        `json:"active"`
	CreatedAt         time.Time   `json:"created_at"`
}

type VoucherCreateRequest struct {
	Code              string      `json:"code"`
	Kind              VoucherKind `json:"kind"`
	Value             int64       `json:"value"`
	MinPurchaseRupiah int64       `json:"min_purchase_rupiah"`
}

type VoucherToggleRequest struct {
	Active bool `json:"active"`
}

type ResolveVoucherRequest struct {
	StoreID   string     `json:"store_id"`
	Code      string     `json:"code"`
	CartItems []CartItem `json:"cart_items"`
}

type ResolveVoucherResponse struct {
	Code           string      `json:"code"`
	Kind           VoucherKind `json:"kind"`
	Value          int64       `json:"value"`
	SubtotalRupiah int64       `json:"subtotal_rupiah"`
	DiscountRupiah int64       `json:"discount_rupiah"`
	TotalRupiah    int64       `json:"total_rupiah"`
}

// Tender is the closed set of payment methods the register accepts.
type Tender string

const (
	TenderCash  Tender = "cash"
	TenderCard  Tender = "card"
	TenderQRIS  Tender = "qris"
	TenderOVO   Tender = "ovo"
	TenderGoPay Tender = "gopay"
)

func (t Tender) Valid() bool {
	switch t {
	case TenderCash, TenderCard, TenderQRIS, TenderOVO, TenderGoPay:
		return true
	}
	return false
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CheckoutRequest struct {
	StoreID            string     `json:"store_id"`
	TerminalID         string     `json:"terminal_id"`
	Tender             Tender     `json:"tender"`
	TenderReference    string     `json:"tender_reference,omitempty"`
	CashReceivedRupiah int64      `json:"cash_received_rupiah"`
	VoucherCode        string     `json:"voucher_code,omitempty"`
	CartItems          []CartItem `json:"cart_items"`
}

type CheckoutResponse struct {
	TransactionID      string      `json:"transaction_id"`
	Status             string      `json:"status"`
	Tender             Tender      `json:"tender"`
	SubtotalRupiah     int64       `json:"subtotal_rupiah"`
	DiscountRupiah     int64       `json:"discount_rupiah"`
	TotalRupiah        int64       `json:"total_rupiah"`
	CashReceivedRupiah int64       `json:"cash_received_rupiah"`
	ChangeRupiah       int64       `json:"change_rupiah"`
	VoucherCode        string      `json:"voucher_code,omitempty"`
	VoucherKind        VoucherKind `json:"voucher_kind,omitempty"`
	ItemCount          int         `json:"item_count"`
	CreatedAt          string      `json:"created_at"`
}

type TransactionLine struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Qty             int    `json:"qty"`
	UnitPriceRupiah int64  `json:"unit_price_rupiah"`
	LineTotalRupiah int64  `json:"line_total_rupiah"`
}

type Transaction struct {
	ID                 string            `json:"id"`
	StoreID            string            `json:"store_id"`
	TerminalID         string            `json:"terminal_id"`
	Tender             Tender            `json:"tender"`
	TenderReference    string            `json:"tender_reference,omitempty"`
	SubtotalRupiah     int64             `json:"subtotal_rupiah"`
	DiscountRupiah     int64             `json:"discount_rupiah"`
	TotalRupiah        int64             `json:"total_rupiah"`
	CashReceivedRupiah int64             `json:"cash_received_rupiah"`
	ChangeRupiah       int64             `json:"change_rupiah"`
	VoucherCode        string            `json:"voucher_code,omitempty"`
	VoucherKind        VoucherKind       `json:"voucher_kind,omitempty"`
	VoucherValue       int64             `json:"voucher_value,omitempty"`
	Status             string            `json:"status"`
	CashierUsername    string            `json:"cashier_username"`
	CreatedAt          time.Time         `json:"created_at"`
	Items              []TransactionLine `json:"items"`
}

type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type HardwareReceiptRequest struct {
	TransactionID string `json:"transaction_id"`
}

type HardwareReceiptResponse struct {
	TransactionID string `json:"transaction_id"`
	EscposBase64  string `json:"escpos_base64"`
	PreviewText   string `json:"preview_text"`
	FileName      string `json:"file_name"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	TxStatusPaid = "paid"
)
