package pricer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHTTPPricer asserts that price queries are encoded correctly and that
// the answer of the endpoint is returned.
func TestHTTPPricer(t *testing.T) {
	t.Parallel()

	prices := map[string]int64{
		"/premium/data": 42_000,
		"/free/data":    0,
	}

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)

			var req priceRequest
			require.NoError(
				t, json.NewDecoder(r.Body).Decode(&req),
			)

			err := json.NewEncoder(w).Encode(&priceResponse{
				Price: prices[req.Path],
			})
			require.NoError(t, err)
		},
	))
	defer server.Close()

	p, err := NewHTTPPricer(&Config{Enabled: true, URL: server.URL})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Close())
	}()

	price, err := p.GetPrice(context.Background(), "/premium/data")
	require.NoError(t, err)
	require.EqualValues(t, 42_000, price)

	// Unknown and explicitly free paths both resolve to a zero price.
	price, err = p.GetPrice(context.Background(), "/free/data")
	require.NoError(t, err)
	require.Zero(t, price)
}

// TestHTTPPricerErrors asserts that endpoint failures and protocol violations
// surface as errors.
func TestHTTPPricerErrors(t *testing.T) {
	t.Parallel()

	// A pricer without an endpoint URL can't be constructed.
	_, err := NewHTTPPricer(&Config{Enabled: true})
	require.ErrorContains(t, err, "URL is required")

	// Endpoint failures are reported with the response body.
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(
				w, "no price list loaded",
				http.StatusInternalServerError,
			)
		},
	))
	defer server.Close()

	p, err := NewHTTPPricer(&Config{Enabled: true, URL: server.URL})
	require.NoError(t, err)

	_, err = p.GetPrice(context.Background(), "/premium/data")
	require.ErrorContains(t, err, "no price list loaded")

	// A negative price is a protocol violation.
	server2 := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			err := json.NewEncoder(w).Encode(&priceResponse{
				Price: -10,
			})
			require.NoError(t, err)
		},
	))
	defer server2.Close()

	p2, err := NewHTTPPricer(&Config{Enabled: true, URL: server2.URL})
	require.NoError(t, err)

	_, err = p2.GetPrice(context.Background(), "/premium/data")
	require.ErrorContains(t, err, "negative price")
}

// TestDefaultPricer asserts that the static pricer answers with the same
// price for every path.
func TestDefaultPricer(t *testing.T) {
	t.Parallel()

	p := NewDefaultPricer(1_000)

	price, err := p.GetPrice(context.Background(), "/any/path")
	require.NoError(t, err)
	require.EqualValues(t, 1_000, price)

	price, err = p.GetPrice(context.Background(), "/another")
	require.NoError(t, err)
	require.EqualValues(t, 1_000, price)

	require.NoError(t, p.Close())
}
