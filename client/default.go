package client

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
)

// defaultClient is the client used by the package level request functions.
var defaultClient atomic.Pointer[Client]

func init() {
	defaultClient.Store(New())
}

// Configure replaces the package level default client with one built from
// the given options. It is a convenience for programs that are happy with a
// single process-wide configuration; code that needs more than one should
// create its own Client values instead.
func Configure(opts ...Option) {
	defaultClient.Store(New(opts...))
}

// DefaultClient returns the package level default client.
func DefaultClient() *Client {
	return defaultClient.Load()
}

// Get issues a GET request through the package level default client.
func Get(ctx context.Context, url string) (*http.Response, error) {
	return DefaultClient().Get(ctx, url)
}

// Post issues a POST request through the package level default client.
func Post(ctx context.Context, url, contentType string,
	body io.Reader) (*http.Response, error) {

	return DefaultClient().Post(ctx, url, contentType, body)
}

// Head issues a HEAD request through the package level default client.
func Head(ctx context.Context, url string) (*http.Response, error) {
	return DefaultClient().Head(ctx, url)
}
