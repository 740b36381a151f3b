package challenger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// fewsatsBaseURL is the URL of the production Fewsats API.
	fewsatsBaseURL = "https://api.fewsats.com"

	// fewsatsAPIKeyEnvVar is the environment variable the Fewsats API key
	// is read from if the configuration doesn't set one.
	fewsatsAPIKeyEnvVar = "FEWSATS_API_KEY"

	// fewsatsDefaultCurrency denominates the invoice amounts if the
	// configuration doesn't specify a currency.
	fewsatsDefaultCurrency = "USD"
)

// FewsatsConfig holds the configuration options for the Fewsats challenger.
type FewsatsConfig struct {
	// BaseURL is the root URL of the Fewsats API. The public production
	// API is used if empty.
	BaseURL string

	// APIKey is the access token used to authenticate against the API. If
	// empty, the FEWSATS_API_KEY environment variable is consulted.
	APIKey string

	// Currency denominates the invoice amounts requested from the API,
	// amounts are in the currency's smallest unit (for example cents for
	// USD).
	Currency string

	// Description is an optional text describing what the payment is for.
	// It appears in the invoice description after the challenge prefix.
	Description string
}

// FewsatsChallenger creates challenge invoices through the REST API of
// Fewsats. It will not do proper invoice checking.
type FewsatsChallenger struct {
	cfg         *FewsatsConfig
	client      *http.Client
	description string
}

// A compile time flag to ensure the FewsatsChallenger satisfies the
// Challenger interface.
var _ Challenger = (*FewsatsChallenger)(nil)

// NewFewsatsChallenger creates a new challenger that requests invoices from
// the Fewsats API.
func NewFewsatsChallenger(cfg *FewsatsConfig) (*FewsatsChallenger, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(fewsatsAPIKeyEnvVar)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing fewsats API key, set it in "+
			"the configuration or the %s environment variable",
			fewsatsAPIKeyEnvVar)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = fewsatsBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = fewsatsDefaultCurrency
	}

	return &FewsatsChallenger{
		cfg: cfg,
		client: &http.Client{
			Timeout: providerRequestTimeout,
		},
		description: ChallengeDescription(cfg.Description),
	}, nil
}

// fewsatsInvoiceRequest is the request body sent to the invoice endpoint of
// the Fewsats API.
type fewsatsInvoiceRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// fewsatsInvoiceResponse is the subset of the invoice endpoint's response the
// challenger cares about.
type fewsatsInvoiceResponse struct {
	PaymentRequest string `json:"PaymentRequest"`
	PaymentHash    string `json:"PaymentHash"`
}

// NewChallenge requests a new invoice from the Fewsats API and returns it
// together with its payment hash.
//
// NOTE: This is part of the mint.Challenger interface.
func (f *FewsatsChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	body, err := postJSON(
		f.client, f.cfg.BaseURL+"/v0/invoices",
		"Bearer "+f.cfg.APIKey, &fewsatsInvoiceRequest{
			Amount:      price,
			Currency:    f.cfg.Currency,
			Description: f.description,
		},
	)
	if err != nil {
		log.Errorf("Error requesting invoice from fewsats: %v", err)
		return "", lntypes.ZeroHash, fmt.Errorf("error requesting "+
			"invoice from fewsats: %w", err)
	}

	var invoice fewsatsInvoiceResponse
	if err := json.Unmarshal(body, &invoice); err != nil {
		return "", lntypes.ZeroHash, fmt.Errorf("invalid JSON "+
			"response from fewsats: %s", body)
	}

	if invoice.PaymentRequest == "" || invoice.PaymentHash == "" {
		return "", lntypes.ZeroHash, fmt.Errorf("no payment request "+
			"or hash found in response: %s", body)
	}

	hash, err := lntypes.MakeHashFromStr(invoice.PaymentHash)
	if err != nil {
		return "", lntypes.ZeroHash, fmt.Errorf("error parsing "+
			"payment hash: %w", err)
	}

	return invoice.PaymentRequest, hash, nil
}

// Stop is a no-op, the challenger doesn't keep any connections open.
//
// NOTE: This is part of the mint.Challenger interface.
func (f *FewsatsChallenger) Stop() {}

// VerifyInvoiceStatus always reports success. The Fewsats API doesn't offer a
// way to track the state of an invoice, so payments can only be verified
// through their preimage.
//
// NOTE: This is part of the auth.InvoiceChecker interface.
func (f *FewsatsChallenger) VerifyInvoiceStatus(lntypes.Hash,
	lnrpc.Invoice_InvoiceState, time.Duration) error {

	return nil
}
