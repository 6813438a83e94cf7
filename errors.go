package market

import (
	"errors"
	"fmt"

	"github.com/xraph/market/account"
	"github.com/xraph/market/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("market: not found")
	ErrInvalidInput = errors.New("market: invalid input")
	ErrUnauthorized = errors.New("market: caller is not the owner")

	// Purchase rejections
	ErrUnknownItem         = errors.New("market: unknown item")
	ErrInsufficientStock   = errors.New("market: item out of stock")
	ErrInsufficientPayment = errors.New("market: tendered amount below cost")
	ErrCurrencyMismatch    = errors.New("market: currency mismatch")

	// Order ledger errors
	ErrIndexOutOfRange = errors.New("market: order index out of range")

	// Treasury errors
	ErrTransferFailed   = errors.New("market: treasury transfer failed")
	ErrTreasuryChanged  = errors.New("market: treasury balance changed during withdrawal")
	ErrPayoutNotDefined = errors.New("market: no payout configured")

	// Store errors
	ErrItemNotFound = errors.New("market: item not found")
	ErrStoreClosed  = errors.New("market: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("market: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// PaymentError is returned when the tendered amount does not cover the cost.
type PaymentError struct {
	ItemID   int64
	Tendered types.Money
	Cost     types.Money
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("market: item %d costs %s, tendered %s", e.ItemID, e.Cost, e.Tendered)
}

func (e *PaymentError) Unwrap() error { return ErrInsufficientPayment }

// IndexError is returned for an order index outside [1, Count].
type IndexError struct {
	Buyer account.Account
	Index int64
	Count int64
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("market: order %d of %s out of range [1, %d]", e.Index, e.Buyer, e.Count)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// TransferError wraps the payout failure that aborted a withdrawal.
type TransferError struct {
	To     account.Account
	Amount types.Money
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("market: transfer of %s to %s failed: %v", e.Amount, e.To, e.Err)
}

// Unwrap exposes both ErrTransferFailed and the payout's own error.
func (e *TransferError) Unwrap() []error { return []error{ErrTransferFailed, e.Err} }

// IsRejection reports whether err is a purchase rejection: the buyer can
// retry with a different item or amount.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnknownItem) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrCurrencyMismatch)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransferFailed) ||
		errors.Is(err, ErrTreasuryChanged)
}
