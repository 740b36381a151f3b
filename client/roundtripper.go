package client

import "net/http"

// RoundTripper exposes the payment engine as an http.RoundTripper, upgrading
// any existing http.Client to answer payment challenges transparently.
type RoundTripper struct {
	client *Client
}

// A compile-time constraint to ensure RoundTripper implements
// http.RoundTripper.
var _ http.RoundTripper = (*RoundTripper)(nil)

// NewRoundTripper creates a transport that sends all requests through the
// given client.
func NewRoundTripper(client *Client) *RoundTripper {
	return &RoundTripper{client: client}
}

// RoundTrip implements http.RoundTripper.
func (r *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// A round tripper must not modify the caller's request and the engine
	// attaches headers, so it operates on a clone.
	return r.client.Do(req.Clone(req.Context()))
}
