package auth

import (
	"context"
	"net/http"

	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
)

// L402Authenticator is an authenticator that uses the L402 protocol to
// authenticate requests.
type L402Authenticator struct {
	minter  Minter
	checker InvoiceChecker
}

// A compile time flag to ensure the L402Authenticator satisfies the
// Authenticator interface.
var _ Authenticator = (*L402Authenticator)(nil)

// NewL402Authenticator creates a new authenticator that authenticates requests
// based on L402 tokens.
func NewL402Authenticator(minter Minter,
	checker InvoiceChecker) *L402Authenticator {

	return &L402Authenticator{
		minter:  minter,
		checker: checker,
	}
}

// Accept returns whether or not the header successfully authenticates the user
// to a given backend service.
//
// NOTE: This is part of the Authenticator interface.
func (l *L402Authenticator) Accept(header *http.Header,
	serviceName string) bool {

	// Try reading the macaroon and preimage from the HTTP header. This can
	// be in different header fields depending on the implementation and/or
	// protocol.
	mac, preimage, err := l402.FromHeader(header)
	if err != nil {
		log.Debugf("Deny: %v", err)
		return false
	}

	verificationParams := &mint.VerificationParams{
		Macaroon:      mac,
		Preimage:      preimage,
		TargetService: serviceName,
	}
	err = l.minter.VerifyL402(context.Background(), verificationParams)
	if err != nil {
		log.Debugf("Deny: L402 validation failed: %v", err)
		return false
	}

	// Make sure the backend has the invoice recorded as settled.
	err = l.checker.VerifyInvoiceStatus(
		preimage.Hash(), lnrpc.Invoice_SETTLED,
		DefaultInvoiceLookupTimeout,
	)
	if err != nil {
		log.Debugf("Deny: Invoice status mismatch: %v", err)
		return false
	}

	return true
}

// FreshChallengeHeader returns a header containing a challenge for the user to
// complete.
//
// NOTE: This is part of the Authenticator interface.
func (l *L402Authenticator) FreshChallengeHeader(r *http.Request,
	serviceName string, servicePrice int64) (http.Header, error) {

	service := l402.Service{
		Name:  serviceName,
		Tier:  l402.BaseTier,
		Price: servicePrice,
	}
	mac, paymentRequest, err := l.minter.MintL402(
		context.Background(), service,
	)
	if err != nil {
		log.Errorf("Error minting L402: %v", err)
		return nil, err
	}

	// The challenge is served on a fresh header so that none of the
	// client's request headers end up reflected in the response.
	header := make(http.Header)
	err = l402.SetChallengeHeader(&header, mac, paymentRequest)
	if err != nil {
		log.Errorf("Error encoding L402 challenge: %v", err)
		return nil, err
	}

	log.Debugf("Created new challenge header: [%s]",
		header.Get(l402.AuthHeader))
	return header, nil
}
