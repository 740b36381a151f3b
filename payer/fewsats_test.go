package payer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFewsatsPayer tests that paying an invoice through the Fewsats direct
// purchase API returns the preimage from the provider's response.
func TestFewsatsPayer(t *testing.T) {
	t.Parallel()

	reqChan := make(chan fewsatsPurchaseRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(
				t, "/v0/l402/purchases/direct", r.URL.Path,
			)
			require.Equal(
				t, "Token test-key",
				r.Header.Get("Authorization"),
			)

			var req fewsatsPurchaseRequest
			require.NoError(
				t, json.NewDecoder(r.Body).Decode(&req),
			)
			reqChan <- req

			err := json.NewEncoder(w).Encode(
				&fewsatsPurchaseResponse{
					Preimage: testPreimage.String(),
				},
			)
			require.NoError(t, err)
		},
	))
	defer server.Close()

	p, err := NewFewsatsPayer(&FewsatsConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	defer p.Stop()

	preimage, err := p.PayInvoice(context.Background(), "lnbc1500n1pw5kjhm")
	require.NoError(t, err)
	require.Equal(t, testPreimage, preimage)

	gotReq := <-reqChan
	require.Equal(t, "lnbc1500n1pw5kjhm", gotReq.Invoice)
	require.Equal(t, fewsatsPaymentDescription, gotReq.Description)
}

// TestFewsatsPayerErrors tests that provider failures are classified
// correctly.
func TestFewsatsPayerErrors(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(
				w, "purchase rejected",
				http.StatusPaymentRequired,
			)
		},
	))
	defer failing.Close()

	p, err := NewFewsatsPayer(&FewsatsConfig{
		BaseURL: failing.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	_, err = p.PayInvoice(context.Background(), "lnbc1500n1pw5kjhm")
	require.ErrorIs(t, err, ErrPaymentFailed)
	require.Contains(t, err.Error(), "purchase rejected")

	// A malformed preimage in an otherwise successful response is a
	// protocol violation.
	badPreimage := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			err := json.NewEncoder(w).Encode(
				&fewsatsPurchaseResponse{
					Preimage: "not-hex",
				},
			)
			require.NoError(t, err)
		},
	))
	defer badPreimage.Close()

	p, err = NewFewsatsPayer(&FewsatsConfig{
		BaseURL: badPreimage.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	_, err = p.PayInvoice(context.Background(), "lnbc1500n1pw5kjhm")
	require.ErrorIs(t, err, ErrProviderProtocol)
}

// TestFewsatsPayerAPIKey tests the environment fallback for the API key.
func TestFewsatsPayerAPIKey(t *testing.T) {
	t.Setenv(fewsatsAPIKeyEnvVar, "")

	_, err := NewFewsatsPayer(&FewsatsConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), fewsatsAPIKeyEnvVar)

	t.Setenv(fewsatsAPIKeyEnvVar, "env-key")

	p, err := NewFewsatsPayer(&FewsatsConfig{})
	require.NoError(t, err)
	require.Equal(t, "env-key", p.cfg.APIKey)
}
