// Package middleware translates the request types of common HTTP frameworks
// to the authenticator contract: a request either carries a valid token and
// passes through with its token ID attached to the context, or it is denied
// with a payment challenge.
package middleware

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/l402"
)

// DefaultPrice is the price in satoshis charged per request if no price
// function is configured.
const DefaultPrice = 1

// Config bundles everything an adapter needs to guard a service with payment
// challenges.
type Config struct {
	// Authenticator validates tokens and mints fresh challenges.
	Authenticator auth.Authenticator

	// ServiceName is the name of the guarded service. It is baked into
	// newly minted tokens and checked during validation.
	ServiceName string

	// Price resolves the price of a request in satoshis. If nil, every
	// request costs DefaultPrice.
	Price func(r *http.Request) int64

	// SkipPaths lists path prefixes that are served without any
	// authentication.
	SkipPaths []string
}

// price returns the price of the given request.
func (c *Config) price(r *http.Request) int64 {
	if c.Price == nil {
		return DefaultPrice
	}
	return c.Price(r)
}

// skip returns true if the given path is exempt from authentication.
func (c *Config) skip(path string) bool {
	for _, prefix := range c.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler wraps next with the payment gate described by cfg for plain
// net/http servers.
func Handler(cfg *Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed, ok := authorize(cfg, w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// authorize runs the authentication decision for a single request. If the
// request may pass, the returned request carries the client's token ID in its
// context. Otherwise the challenge or error response has already been written
// and the request must not be forwarded.
func authorize(cfg *Config, w http.ResponseWriter,
	r *http.Request) (*http.Request, bool) {

	if cfg.skip(r.URL.Path) {
		return r, true
	}

	if cfg.Authenticator.Accept(&r.Header, cfg.ServiceName) {
		return withTokenID(r), true
	}

	header, err := cfg.Authenticator.FreshChallengeHeader(
		r, cfg.ServiceName, cfg.price(r),
	)
	if err != nil {
		log.Errorf("Unable to mint challenge for %s: %v", r.URL.Path,
			err)
		http.Error(
			w, "challenge creation failed",
			http.StatusInternalServerError,
		)
		return nil, false
	}

	for name, value := range header {
		w.Header().Set(name, value[0])
		for i := 1; i < len(value); i++ {
			w.Header().Add(name, value[i])
		}
	}
	http.Error(w, "payment required", http.StatusPaymentRequired)

	return nil, false
}

// withTokenID returns the request with the client's token ID attached to its
// context. A request whose identifier can't be decoded passes through
// unchanged, it already survived validation.
func withTokenID(r *http.Request) *http.Request {
	mac, _, err := l402.FromHeader(&r.Header)
	if err != nil {
		return r
	}
	identifier, err := l402.DecodeIdentifier(bytes.NewReader(mac.Id()))
	if err != nil {
		return r
	}

	ctx := l402.AddToContext(
		r.Context(), l402.KeyTokenID, identifier.TokenID,
	)
	return r.WithContext(ctx)
}
