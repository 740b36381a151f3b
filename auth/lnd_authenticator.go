package auth

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/macaroons"
	"github.com/lightningnetwork/lnd/lnrpc"
	"gopkg.in/macaroon-bakery.v2/bakery"
	"gopkg.in/macaroon-bakery.v2/bakery/checkers"
	"gopkg.in/macaroon.v2"
)

var opWildcard = "*"

// LndConfig holds the connection details of the lnd node that backs the
// bakery based authenticator.
type LndConfig struct {
	// LndHost is the hostname of the lnd instance to connect to.
	LndHost string

	// TLSPath is the path to lnd's TLS certificate.
	TLSPath string

	// MacDir is the directory that contains lnd's macaroon files.
	MacDir string

	// Network is the network lnd is connected to.
	Network string
}

// LndAuthenticator is an authenticator that uses a macaroon bakery instead of
// the L402 mint and issues its invoices directly through an lnd node. The
// macaroons it mints commit to the invoice's payment hash through an r-hash
// caveat.
type LndAuthenticator struct {
	client     lnrpc.LightningClient
	macService *macaroons.Service
}

// A compile time flag to ensure the LndAuthenticator satisfies the
// Authenticator interface.
var _ Authenticator = (*LndAuthenticator)(nil)

// NewLndAuthenticator creates a new authenticator that is connected to an lnd
// backend and can create new invoices if required.
func NewLndAuthenticator(cfg *LndConfig) (*LndAuthenticator, error) {
	client, err := lndclient.NewBasicClient(
		cfg.LndHost, cfg.TLSPath, cfg.MacDir, cfg.Network,
	)
	if err != nil {
		return nil, err
	}
	macService, err := macaroons.NewService(macaroons.RHashChecker)
	if err != nil {
		return nil, err
	}

	return &LndAuthenticator{
		client:     client,
		macService: macService,
	}, nil
}

// Accept returns whether or not the header successfully authenticates the user
// to a given backend service.
//
// NOTE: This is part of the Authenticator interface.
func (l *LndAuthenticator) Accept(header *http.Header,
	serviceName string) bool {

	mac, preimage, err := l402.FromHeader(header)
	if err != nil {
		log.Debugf("Deny: %v", err)
		return false
	}

	// The macaroon commits to the payment hash of its invoice. The
	// presented preimage must hash to exactly that value, otherwise the
	// token was never paid for.
	hashHex, ok := rHashCaveat(mac)
	if !ok {
		log.Debugf("Deny: Macaroon carries no r-hash caveat.")
		return false
	}
	if hashHex != preimage.Hash().String() {
		log.Debugf("Deny: Preimage does not match r-hash caveat.")
		return false
	}

	macBytes, err := mac.MarshalBinary()
	if err != nil {
		log.Debugf("Deny: Unable to serialize macaroon: %v", err)
		return false
	}
	err = l.macService.ValidateMacaroon(macBytes, []bakery.Op{{
		Entity: serviceName,
		Action: opWildcard,
	}})
	if err != nil {
		log.Debugf("Deny: Macaroon validation failed: %v", err)
		return false
	}
	return true
}

// FreshChallengeHeader returns a header containing a challenge for the user to
// complete.
//
// NOTE: This is part of the Authenticator interface.
func (l *LndAuthenticator) FreshChallengeHeader(r *http.Request,
	serviceName string, servicePrice int64) (http.Header, error) {

	// Obtain a new invoice from lnd first. We need to know the payment
	// hash so we can add it as a caveat to the macaroon.
	ctx := context.Background()
	invoice := &lnrpc.Invoice{
		Memo:  "L402 Challenge: " + serviceName,
		Value: servicePrice,
	}
	response, err := l.client.AddInvoice(ctx, invoice)
	if err != nil {
		log.Errorf("Error adding invoice: %v", err)
		return nil, err
	}
	paymentHashHex := hex.EncodeToString(response.RHash)

	// Create a new macaroon and add the payment hash as a caveat.
	macBytes, err := l.macService.NewMacaroon(
		[]bakery.Op{{Entity: serviceName, Action: opWildcard}},
		[]string{checkers.Condition(macaroons.CondRHash, paymentHashHex)},
	)
	if err != nil {
		log.Errorf("Error creating macaroon: %v", err)
		return nil, err
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, err
	}

	// The challenge is served on a fresh header so that none of the
	// client's request headers end up reflected in the response.
	header := make(http.Header)
	err = l402.SetChallengeHeader(
		&header, mac, response.GetPaymentRequest(),
	)
	if err != nil {
		return nil, err
	}

	log.Debugf("Created new challenge header: [%s]",
		header.Get(l402.AuthHeader))
	return header, nil
}

// rHashCaveat extracts the value of the first r-hash caveat from the given
// macaroon.
func rHashCaveat(mac *macaroon.Macaroon) (string, bool) {
	for _, caveat := range mac.Caveats() {
		cond, arg, err := checkers.ParseCaveat(string(caveat.Id))
		if err != nil {
			continue
		}
		if cond == macaroons.CondRHash {
			return arg, true
		}
	}
	return "", false
}
