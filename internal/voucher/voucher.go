package voucher

import (
	"errors"
	"fmt"
	"math"

	"warungpos/backend/internal/domain"
)

// ErrNotFound covers both absent and deactivated codes so the register
// cannot be used to enumerate which codes exist.
var (
	ErrNotFound    = errors.New("invalid or inactive voucher code")
	ErrUnknownKind = errors.New("unknown voucher kind")
)

// MinPurchaseError reports the threshold the cart must reach before the
// voucher applies.
type MinPurchaseError struct {
	Code           string
	RequiredRupiah int64
}

func (e *MinPurchaseError) Error() string {
	return fmt.Sprintf("voucher %s requires a minimum purchase of Rp %d", e.Code, e.RequiredRupiah)
}

// Resolve validates a voucher against the current subtotal and returns the
// discount in whole Rupiah. The discount never exceeds the subtotal and is
// never negative.
func Resolve(v *domain.Voucher, subtotalRupiah int64) (int64, error) {
	if v == nil || !v.Active {
		return 0, ErrNotFound
	}
	if subtotalRupiah < v.MinPurchaseRupiah {
		return 0, &MinPurchaseError{Code: v.Code, RequiredRupiah: v.MinPurchaseRupiah}
	}
	var discount int64
	switch v.Kind {
	case domain.VoucherPercentage:
		discount = int64(math.Round(float64(subtotalRupiah) * float64(v.Value) / 100.0))
	case domain.VoucherFixed:
		discount = v.Value
	default:
		return 0, ErrUnknownKind
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotalRupiah {
		discount = subtotalRupiah
	}
	return discount, nil
}
