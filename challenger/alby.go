package challenger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// albyBaseURL is the URL of the production Alby API.
	albyBaseURL = "https://api.getalby.com"

	// albyDefaultCurrency denominates the invoice amounts if the
	// configuration doesn't specify a currency.
	albyDefaultCurrency = "btc"

	// providerRequestTimeout is the maximum time a single request to an
	// HTTP invoice provider may take.
	providerRequestTimeout = 30 * time.Second
)

// AlbyConfig holds the configuration options for the Alby challenger.
type AlbyConfig struct {
	// BaseURL is the root URL of the Alby API. The public production API
	// is used if empty.
	BaseURL string

	// APIKey is the access token used to authenticate against the API.
	APIKey string

	// Currency denominates the invoice amounts requested from the API.
	Currency string

	// Description is an optional text describing what the payment is for.
	// It appears in the invoice description after the challenge prefix.
	Description string
}

// AlbyChallenger creates challenge invoices through the REST API of Alby, a
// custodial Lightning wallet provider. It will not do proper invoice
// checking.
type AlbyChallenger struct {
	cfg         *AlbyConfig
	client      *http.Client
	description string
}

// A compile time flag to ensure the AlbyChallenger satisfies the Challenger
// interface.
var _ Challenger = (*AlbyChallenger)(nil)

// NewAlbyChallenger creates a new challenger that requests invoices from the
// Alby API.
func NewAlbyChallenger(cfg *AlbyConfig) (*AlbyChallenger, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing alby API key")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = albyBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = albyDefaultCurrency
	}

	return &AlbyChallenger{
		cfg: cfg,
		client: &http.Client{
			Timeout: providerRequestTimeout,
		},
		description: ChallengeDescription(cfg.Description),
	}, nil
}

// albyInvoiceRequest is the request body sent to the invoice endpoint of the
// Alby API.
type albyInvoiceRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// albyInvoiceResponse is the subset of the invoice endpoint's response the
// challenger cares about.
type albyInvoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
}

// NewChallenge requests a new invoice from the Alby API and returns it
// together with its payment hash.
//
// NOTE: This is part of the mint.Challenger interface.
func (a *AlbyChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	body, err := postJSON(
		a.client, a.cfg.BaseURL+"/invoices",
		"Bearer "+a.cfg.APIKey, &albyInvoiceRequest{
			Amount:      price,
			Currency:    a.cfg.Currency,
			Description: a.description,
		},
	)
	if err != nil {
		log.Errorf("Error requesting invoice from alby: %v", err)
		return "", lntypes.ZeroHash, fmt.Errorf("error requesting "+
			"invoice from alby: %w", err)
	}

	var invoice albyInvoiceResponse
	if err := json.Unmarshal(body, &invoice); err != nil {
		return "", lntypes.ZeroHash, fmt.Errorf("invalid JSON "+
			"response from alby: %s", body)
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
func (a *AlbyChallenger) Stop() {}

// VerifyInvoiceStatus always reports success. The Alby API doesn't offer a
// way to track the state of an invoice, so payments can only be verified
// through their preimage.
//
// NOTE: This is part of the auth.InvoiceChecker interface.
func (a *AlbyChallenger) VerifyInvoiceStatus(lntypes.Hash,
	lnrpc.Invoice_InvoiceState, time.Duration) error {

	return nil
}

// postJSON sends the given payload to the URL as a JSON encoded POST request
// and returns the raw response body. A non-200 status is turned into an error
// that includes the provider's response for diagnostics.
func postJSON(client *http.Client, url, authHeader string,
	payload interface{}) ([]byte, error) {

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(
		http.MethodPost, url, bytes.NewReader(body),
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
