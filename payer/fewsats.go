package payer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// fewsatsBaseURL is the URL of the production Fewsats API.
	fewsatsBaseURL = "https://api.fewsats.com"

	// fewsatsAPIKeyEnvVar is the environment variable the Fewsats API key
	// is read from if the configuration doesn't set one.
	fewsatsAPIKeyEnvVar = "FEWSATS_API_KEY"

	// fewsatsPaymentDescription is attached to direct invoice purchases
	// so they can be told apart in the provider's dashboard.
	fewsatsPaymentDescription = "Invoice payment for preimage retrieval"
)

// FewsatsConfig holds the configuration options for the Fewsats payer.
type FewsatsConfig struct {
	// BaseURL is the root URL of the Fewsats API. The public production
	// API is used if empty.
	BaseURL string

	// APIKey is the access token used to authenticate against the API. If
	// empty, the FEWSATS_API_KEY environment variable is consulted.
	APIKey string
}

// FewsatsPayer pays invoices through the purchase endpoint of the Fewsats
// API.
type FewsatsPayer struct {
	cfg    *FewsatsConfig
	client *http.Client
}

// A compile time flag to ensure the FewsatsPayer satisfies the Payer
// interface.
var _ Payer = (*FewsatsPayer)(nil)

// NewFewsatsPayer creates a new payer that pays invoices through the Fewsats
// API.
func NewFewsatsPayer(cfg *FewsatsConfig) (*FewsatsPayer, error) {
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

	return &FewsatsPayer{
		cfg: cfg,
		client: &http.Client{
			Timeout: providerRequestTimeout,
		},
	}, nil
}

// fewsatsPurchaseRequest is the request body sent to the direct purchase
// endpoint of the Fewsats API. The macaroon and URL fields may be empty for
// plain invoice payments.
type fewsatsPurchaseRequest struct {
	Invoice     string `json:"invoice"`
	Macaroon    string `json:"macaroon"`
	L402URL     string `json:"l402_url"`
	Description string `json:"description"`
}

// fewsatsPurchaseResponse is the subset of the purchase endpoint's response
// the payer cares about.
type fewsatsPurchaseResponse struct {
	Preimage string `json:"preimage"`
}

// PayInvoice pays the given invoice through the Fewsats API and returns the
// preimage reported for the purchase.
//
// NOTE: This is part of the Payer interface.
func (f *FewsatsPayer) PayInvoice(ctx context.Context, invoice string) (
	lntypes.Preimage, error) {

	body, err := postJSON(
		ctx, f.client, f.cfg.BaseURL+"/v0/l402/purchases/direct",
		"Token "+f.cfg.APIKey, &fewsatsPurchaseRequest{
			Invoice:     invoice,
			Description: fewsatsPaymentDescription,
		},
	)
	if err != nil {
		log.Errorf("Error paying invoice through fewsats: %v", err)
		return lntypes.Preimage{}, fmt.Errorf("%w: %v",
			ErrPaymentFailed, err)
	}

	var purchase fewsatsPurchaseResponse
	if err := json.Unmarshal(body, &purchase); err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: invalid JSON "+
			"response: %s", ErrProviderProtocol, body)
	}

	if purchase.Preimage == "" {
		return lntypes.Preimage{}, fmt.Errorf("%w: preimage not "+
			"found in response: %s", ErrProviderProtocol, body)
	}

	preimage, err := lntypes.MakePreimageFromStr(purchase.Preimage)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: %v",
			ErrProviderProtocol, err)
	}

	return preimage, nil
}

// Stop is a no-op, the payer doesn't keep any connections open.
//
// NOTE: This is part of the Payer interface.
func (f *FewsatsPayer) Stop() {}
