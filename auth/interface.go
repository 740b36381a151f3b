package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"gopkg.in/macaroon.v2"
)

const (
	// DefaultInvoiceLookupTimeout is the maximum time we wait for an
	// invoice state to arrive from the backend before we give up and deny
	// the request.
	DefaultInvoiceLookupTimeout = 3 * time.Second
)

// Authenticator is the generic interface for validating client headers and
// returning new challenge headers.
type Authenticator interface {
	// Accept returns whether or not the header successfully authenticates
	// the user to a given backend service.
	Accept(*http.Header, string) bool

	// FreshChallengeHeader returns a header containing a challenge for the
	// user to complete.
	FreshChallengeHeader(*http.Request, string, int64) (http.Header, error)
}

// Minter is an entity that is able to mint and verify L402s for a set of
// services.
type Minter interface {
	// MintL402 mints a new L402 macaroon and returns it together with the
	// payment request of the invoice that needs to be paid before the
	// token becomes valid.
	MintL402(context.Context, ...l402.Service) (*macaroon.Macaroon,
		string, error)

	// VerifyL402 checks that the given parameters correspond to a
	// well-formed, fully paid token that grants access to the target
	// service.
	VerifyL402(context.Context, *mint.VerificationParams) error
}

// InvoiceChecker is an entity that is able to check the status of an invoice,
// especially whether it was settled by the payer or not.
type InvoiceChecker interface {
	// VerifyInvoiceStatus checks that an invoice with the given payment
	// hash exists in the system and has the desired status. It will wait
	// at most the given duration before failing the check if no update
	// for the invoice was received.
	VerifyInvoiceStatus(lntypes.Hash, lnrpc.Invoice_InvoiceState,
		time.Duration) error
}
