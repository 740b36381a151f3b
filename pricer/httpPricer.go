package pricer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultQueryTimeout is the maximum time a price query may take if no
// timeout is configured.
const defaultQueryTimeout = 5 * time.Second

// Config holds all the config values required to initialise the HTTPPricer.
type Config struct {
	// Enabled indicates that prices are to be fetched from a remote
	// endpoint instead of using the static service price.
	Enabled bool `long:"enabled" description:"Set to true if a price endpoint is available to query for price data" yaml:"enabled"`

	// URL is the address of the price endpoint.
	URL string `long:"url" description:"URL of the endpoint to query for price info of service resources" yaml:"url"`

	// Timeout is the maximum time a price query may take.
	Timeout time.Duration `long:"timeout" description:"Maximum time a price query may take" yaml:"timeout"`
}

// HTTPPricer queries a remote endpoint for the price of a service resource
// given the resource path. It implements the Pricer interface.
type HTTPPricer struct {
	cfg    *Config
	client *http.Client
}

// A compile time flag to ensure the HTTPPricer satisfies the Pricer interface.
var _ Pricer = (*HTTPPricer)(nil)

// NewHTTPPricer initialises a Pricer backed by a remote price endpoint.
func NewHTTPPricer(cfg *Config) (*HTTPPricer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("price endpoint URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}

	return &HTTPPricer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// priceRequest is the body of a query to the price endpoint.
type priceRequest struct {
	Path string `json:"path"`
}

// priceResponse is the body of an answer of the price endpoint.
type priceResponse struct {
	Price int64 `json:"price"`
}

// GetPrice queries the endpoint for the price of a resource path and returns
// the price. GetPrice is part of the Pricer interface.
func (h *HTTPPricer) GetPrice(ctx context.Context, path string) (int64, error) {
	payload, err := json.Marshal(&priceRequest{Path: path})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(payload),
	)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("unable to query price endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("price endpoint answered with status "+
			"%d: %s", resp.StatusCode, body)
	}

	var priceResp priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		return 0, fmt.Errorf("unable to decode price response: %w",
			err)
	}

	if priceResp.Price < 0 {
		return 0, fmt.Errorf("price endpoint answered with negative "+
			"price %d", priceResp.Price)
	}

	return priceResp.Price, nil
}

// Close closes the idle connections of the underlying HTTP client. It is part
// of the Pricer interface.
func (h *HTTPPricer) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
