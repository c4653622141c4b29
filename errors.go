package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")

	// Pool errors
	ErrPoolNotFound = errors.New("credits: pool not found")
	ErrPoolClosed   = errors.New("credits: pool is closed")
	ErrPoolHasHolds = errors.New("credits: pool has open reservations")

	// Membership errors
	ErrMemberNotFound  = errors.New("credits: member not found")
	ErrMemberNotActive = errors.New("credits: member not active")
	ErrLimitExceeded   = errors.New("credits: member spend limit exceeded")

	// Ledger errors
	ErrInsufficientFunds = errors.New("credits: insufficient funds")
	ErrVersionConflict   = errors.New("credits: concurrent modification conflict")
	ErrCommitRetries     = errors.New("credits: commit retries exhausted")
	ErrInvariantBroken   = errors.New("credits: balance invariant violated")

	// Reservation protocol errors
	ErrReservationNotFound = errors.New("credits: reservation not found")
	ErrNotReserved         = errors.New("credits: amount no longer reserved")

	// Purchase errors
	ErrPurchaseNotFound   = errors.New("credits: purchase not found")
	ErrPaymentFailed      = errors.New("credits: payment failed")
	ErrNotRefundable      = errors.New("credits: purchase not refundable")
	ErrAutoPurchaseCapped = errors.New("credits: auto-purchase monthly cap reached")

	// Store errors
	ErrStoreClosed     = errors.New("credits: store is closed")
	ErrMigrationFailed = errors.New("credits: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrPurchaseNotFound)
}

// IsInsufficientFunds returns true if the error is a funds shortage.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrCommitRetries)
}
