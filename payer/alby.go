package payer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// albyBaseURL is the URL of the production Alby API.
	albyBaseURL = "https://api.getalby.com"

	// providerRequestTimeout is the maximum time a single request to an
	// HTTP payment provider may take.
	providerRequestTimeout = 30 * time.Second
)

// AlbyConfig holds the configuration options for the Alby payer.
type AlbyConfig struct {
	// BaseURL is the root URL of the Alby API. The public production API
	// is used if empty.
	BaseURL string

	// APIKey is the access token used to authenticate against the API.
	APIKey string
}

// AlbyPayer pays invoices through the REST API of Alby, a custodial
// Lightning wallet provider.
type AlbyPayer struct {
	cfg    *AlbyConfig
	client *http.Client
}

// A compile time flag to ensure the AlbyPayer satisfies the Payer interface.
var _ Payer = (*AlbyPayer)(nil)

// NewAlbyPayer creates a new payer that pays invoices through the Alby API.
func NewAlbyPayer(cfg *AlbyConfig) (*AlbyPayer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing alby API key")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = albyBaseURL
	}

	return &AlbyPayer{
		cfg: cfg,
		client: &http.Client{
			Timeout: providerRequestTimeout,
		},
	}, nil
}

// albyPaymentRequest is the request body sent to the bolt11 payment endpoint
// of the Alby API.
type albyPaymentRequest struct {
	Invoice string `json:"invoice"`
}

// albyPaymentResponse is the subset of the payment endpoint's response the
// payer cares about.
type albyPaymentResponse struct {
	PaymentPreimage string `json:"payment_preimage"`
}

// PayInvoice pays the given invoice through the Alby API and returns the
// preimage reported by the wallet.
//
// NOTE: This is part of the Payer interface.
func (a *AlbyPayer) PayInvoice(ctx context.Context, invoice string) (
	lntypes.Preimage, error) {

	body, err := postJSON(
		ctx, a.client, a.cfg.BaseURL+"/payments/bolt11",
		"Bearer "+a.cfg.APIKey, &albyPaymentRequest{
			Invoice: invoice,
		},
	)
	if err != nil {
		log.Errorf("Error paying invoice through alby: %v", err)
		return lntypes.Preimage{}, fmt.Errorf("%w: %v",
			ErrPaymentFailed, err)
	}

	var payment albyPaymentResponse
	if err := json.Unmarshal(body, &payment); err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: invalid JSON "+
			"response: %s", ErrProviderProtocol, body)
	}

	if payment.PaymentPreimage == "" {
		return lntypes.Preimage{}, fmt.Errorf("%w: payment preimage "+
			"not found in response: %s", ErrProviderProtocol, body)
	}

	preimage, err := lntypes.MakePreimageFromStr(payment.PaymentPreimage)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: %v",
			ErrProviderProtocol, err)
	}

	return preimage, nil
}

// Stop is a no-op, the payer doesn't keep any connections open.
//
// NOTE: This is part of the Payer interface.
func (a *AlbyPayer) Stop() {}

// postJSON sends the given payload to the URL as a JSON encoded POST request
// and returns the raw response body. A non-200 status is turned into an error
// that includes the provider's response for diagnostics.
func postJSON(ctx context.Context, client *http.Client, url,
	authHeader string, payload interface{}) ([]byte, error) {

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response (%d): %s",
			resp.StatusCode, respBody)
	}

	return respBody, nil
}
