package payer

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrPaymentFailed is returned if a payment cannot be completed.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrProviderProtocol is returned if a payment provider's response
	// doesn't contain the data the protocol requires, for example a
	// missing preimage for a payment that allegedly succeeded.
	ErrProviderProtocol = errors.New("provider protocol error")
)

// Payer is the interface for paying Lightning invoices and returning the
// payment preimage as the proof of payment.
type Payer interface {
	// PayInvoice pays the given payment request and returns the preimage
	// released by the settled payment. The payer itself never retries a
	// failed payment, that decision is left to the caller.
	PayInvoice(ctx context.Context, invoice string) (lntypes.Preimage,
		error)

	// Stop shuts down the payer and releases any connections it holds.
	Stop()
}
