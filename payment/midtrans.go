package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// Midtrans charges cards through the Midtrans Core API.
type Midtrans struct {
	client coreapi.Client
}

// NewMidtrans builds a Midtrans gateway. Pass production=true to charge
// against the live environment instead of the sandbox.
func NewMidtrans(serverKey string, production bool) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var c coreapi.Client
	c.New(serverKey, env)
	return &Midtrans{client: c}
}

// Charge implements Gateway.
func (m *Midtrans) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	orderRef := req.OrderRef
	if orderRef == "" {
		orderRef = uuid.NewString()
	}

	chargeReq := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderRef,
			GrossAmt: req.Amount.Amount,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.PaymentMethodRef,
		},
	}

	resp, midErr := m.client.ChargeTransaction(chargeReq)
	if midErr != nil {
		return nil, fmt.Errorf("payment: midtrans charge: %v", midErr.GetMessage())
	}

	switch resp.TransactionStatus {
	case "capture", "settlement":
		return &ChargeResult{Reference: resp.TransactionID}, nil
	case "deny", "cancel", "expire":
		return nil, fmt.Errorf("%w: status %s", ErrDeclined, resp.TransactionStatus)
	default:
		return nil, fmt.Errorf("payment: midtrans charge in unexpected status %s", resp.TransactionStatus)
	}
}
