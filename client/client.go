package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lightninglabs/tollgate/credentials"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/payer"
)

// defaultRequestTimeout is the maximum time a single outbound HTTP call may
// take if no custom HTTP client is configured.
const defaultRequestTimeout = 30 * time.Second

// Option modifies the configuration of a client.
type Option func(*Client)

// WithPayer sets the payer that settles payment challenges. A client without
// a payer can only use credentials its store already holds.
func WithPayer(p payer.Payer) Option {
	return func(c *Client) {
		c.payer = p
	}
}

// WithStore sets the credential store. By default credentials are kept in
// memory and die with the client.
func WithStore(store credentials.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithHTTPClient sets the HTTP client used for the actual network calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header sent with every request that does
// not carry one already.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// Client is an HTTP client that answers payment challenges transparently. A
// request that is served a 402 response triggers a payment through the
// configured payer, the resulting credential is persisted and the request is
// sent again with the credential attached.
type Client struct {
	payer      payer.Payer
	store      credentials.Store
	httpClient *http.Client
	userAgent  string

	// lock serializes the credential lookup, payment and retry sequence.
	// Two parallel requests to the same location would otherwise both
	// observe a missing credential and both pay for one.
	lock sync.Mutex
}

// New creates a new client. Without options the client uses an in-memory
// credential store, a default HTTP timeout and no payer.
func New(opts ...Option) *Client {
	c := &Client{
		store: credentials.NewMemoryStore(),
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do sends an HTTP request, transparently paying for access if the server
// responds with a payment challenge. A credential already stored for the
// request URL is attached before the first attempt. On a 402 the challenge is
// parsed, its invoice paid, the completed credential persisted and the
// request sent again exactly once. The second response is returned whatever
// its status, the client never pays twice for one call.
//
// Requests with a body can only be re-sent if the body can be recreated,
// which net/http arranges for the common in-memory body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	location := req.URL.String()

	// Attach a previously paid credential if the store has one for this
	// location.
	cred, err := c.store.Get(req.Context(), location)
	switch {
	case errors.Is(err, credentials.ErrNoCredential):

	case err != nil:
		return nil, fmt.Errorf("unable to query credential store: %w",
			err)

	default:
		if err := attachCredential(req, cred); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	// The challenge response is not handed to the caller, drain it so the
	// transport can reuse the connection.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	// The server wants to be paid. The challenge header carries everything
	// needed to acquire a credential.
	challenge, err := l402.ChallengeFromHeader(&resp.Header)
	if err != nil {
		return nil, err
	}

	if c.payer == nil {
		return nil, fmt.Errorf("got payment challenge for %s but no "+
			"payer is configured", location)
	}

	// Make sure the request can actually be sent a second time before
	// spending money on the challenge.
	retry, err := rewindRequest(req)
	if err != nil {
		return nil, err
	}

	cred, err = credentials.FromChallenge(location, challenge)
	if err != nil {
		return nil, err
	}

	log.Infof("Payment of %s required to access %s, paying invoice",
		cred.Invoice, location)
	preimage, err := c.payer.PayInvoice(req.Context(), cred.Invoice)
	if err != nil {
		return nil, fmt.Errorf("unable to pay for access to %s: %w",
			location, err)
	}
	if err := cred.SetPreimage(preimage); err != nil {
		return nil, err
	}

	// Persist before the retry. Should the retry fail or be canceled, the
	// paid credential is still on record and serves the next attempt.
	if err := c.store.Store(req.Context(), cred); err != nil {
		return nil, fmt.Errorf("unable to store credential: %w", err)
	}
	log.Debugf("Stored new credential for %s", location)

	// Send the request again, now carrying the paid credential. If the
	// server still isn't happy we won't pay for another token, the
	// response is the caller's to inspect.
	if err := attachCredential(retry, cred); err != nil {
		return nil, err
	}

	return c.send(retry)
}

// Get issues a GET request to the given URL, paying for access if needed.
func (c *Client) Get(ctx context.Context, url string) (*http.Response,
	error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	return c.Do(req)
}

// Post issues a POST request with the given body to the given URL, paying
// for access if needed.
func (c *Client) Post(ctx context.Context, url, contentType string,
	body io.Reader) (*http.Response, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	return c.Do(req)
}

// Head issues a HEAD request to the given URL, paying for access if needed.
func (c *Client) Head(ctx context.Context, url string) (*http.Response,
	error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}

	return c.Do(req)
}

// send performs the raw HTTP call.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return c.httpClient.Do(req)
}

// attachCredential sets the authentication header of the request from the
// given credential.
func attachCredential(req *http.Request,
	cred *credentials.Credential) error {

	mac, preimage, err := cred.Token()
	if err != nil {
		return err
	}

	return l402.SetHeader(&req.Header, mac, preimage)
}

// rewindRequest prepares a request for being sent a second time.
func rewindRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}

	// The first send consumed the original body, it needs to be recreated
	// for the retry.
	if req.GetBody == nil {
		return nil, fmt.Errorf("unable to resend request: body cannot " +
			"be recreated")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("unable to recreate request body: %w",
			err)
	}

	retry := req.Clone(req.Context())
	retry.Body = body

	return retry, nil
}
