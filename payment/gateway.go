// Package payment defines the external payment gateway contract the
// purchase processor charges against, plus concrete adapters.
package payment

import (
	"context"
	"errors"

	"github.com/radiant/credits/types"
)

// ErrDeclined is returned when the gateway refuses the charge. The caller
// aborts without touching the ledger.
var ErrDeclined = errors.New("payment: charge declined")

// ChargeRequest describes one charge attempt.
type ChargeRequest struct {
	// OrderRef is the caller's idempotent order identifier. Adapters
	// generate one when empty.
	OrderRef string

	Amount types.Money

	// PaymentMethodRef identifies the stored payment instrument.
	PaymentMethodRef string

	Description string
}

// ChargeResult is a successful charge. Reference is the durable gateway
// identifier usable for idempotent replay of the ledger credit.
type ChargeResult struct {
	Reference string
}

// Gateway charges an external payment provider. Implementations must
// return ErrDeclined (possibly wrapped) for refusals so callers can
// distinguish declines from transport failures.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
