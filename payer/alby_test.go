package payer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAlbyPayer tests that paying an invoice through the Alby API returns the
// preimage from the provider's response.
func TestAlbyPayer(t *testing.T) {
	t.Parallel()

	reqChan := make(chan albyPaymentRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/payments/bolt11", r.URL.Path)
			require.Equal(
				t, "Bearer test-key",
				r.Header.Get("Authorization"),
			)

			var req albyPaymentRequest
			require.NoError(
				t, json.NewDecoder(r.Body).Decode(&req),
			)
			reqChan <- req

			err := json.NewEncoder(w).Encode(&albyPaymentResponse{
				PaymentPreimage: testPreimage.String(),
			})
			require.NoError(t, err)
		},
	))
	defer server.Close()

	p, err := NewAlbyPayer(&AlbyConfig{
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
}

// TestAlbyPayerErrors tests that provider failures are classified correctly.
func TestAlbyPayerErrors(t *testing.T) {
	t.Parallel()

	_, err := NewAlbyPayer(&AlbyConfig{})
	require.Error(t, err)

	// A non-success response means the payment didn't go through, the
	// provider's reason must be preserved.
	failing := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(
				w, "insufficient balance",
				http.StatusBadRequest,
			)
		},
	))
	defer failing.Close()

	p, err := NewAlbyPayer(&AlbyConfig{
		BaseURL: failing.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	_, err = p.PayInvoice(context.Background(), "lnbc1500n1pw5kjhm")
	require.ErrorIs(t, err, ErrPaymentFailed)
	require.Contains(t, err.Error(), "insufficient balance")

	// A success response without a preimage violates the provider
	// protocol.
	empty := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, err := w.Write([]byte("{}"))
			require.NoError(t, err)
		},
	))
	defer empty.Close()

	p, err = NewAlbyPayer(&AlbyConfig{
		BaseURL: empty.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	_, err = p.PayInvoice(context.Background(), "lnbc1500n1pw5kjhm")
	require.ErrorIs(t, err, ErrProviderProtocol)
}
