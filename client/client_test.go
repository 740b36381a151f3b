package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lightninglabs/tollgate/credentials"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/payer"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"gopkg.in/macaroon.v2"
)

var (
	testPreimage = lntypes.Preimage{1, 2, 3, 4}

	testInvoice = "lnbc1500n1pw5kjhm"
)

// mockPayer returns a fixed preimage or error and counts its invocations.
type mockPayer struct {
	preimage lntypes.Preimage
	err      error

	calls       int
	lastInvoice string
}

func (p *mockPayer) PayInvoice(_ context.Context,
	invoice string) (lntypes.Preimage, error) {

	p.calls++
	p.lastInvoice = invoice

	if p.err != nil {
		return lntypes.Preimage{}, p.err
	}
	return p.preimage, nil
}

func (p *mockPayer) Stop() {}

// newChallengeMacaroon creates a macaroon committing to the payment hash of
// the given preimage, the way a server would mint it.
func newChallengeMacaroon(t *testing.T,
	preimage lntypes.Preimage) *macaroon.Macaroon {

	t.Helper()

	var identifier bytes.Buffer
	err := l402.EncodeIdentifier(&identifier, &l402.Identifier{
		Version:     l402.LatestVersion,
		PaymentHash: preimage.Hash(),
		TokenID:     l402.TokenID{1},
	})
	require.NoError(t, err)

	rootKey := [l402.SecretSize]byte{2}
	mac, err := macaroon.New(
		rootKey[:], identifier.Bytes(), "tollgate",
		macaroon.LatestVersion,
	)
	require.NoError(t, err)

	return mac
}

// paywall is a test server that challenges every request that doesn't carry
// a token with the expected preimage.
type paywall struct {
	t        *testing.T
	preimage lntypes.Preimage
	mac      *macaroon.Macaroon

	server *httptest.Server
	hits   atomic.Int32
	bodies chan string
}

func newPaywall(t *testing.T, preimage lntypes.Preimage) *paywall {
	p := &paywall{
		t:        t,
		preimage: preimage,
		mac:      newChallengeMacaroon(t, preimage),
		bodies:   make(chan string, 8),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)

	return p
}

func (p *paywall) handle(w http.ResponseWriter, r *http.Request) {
	p.hits.Add(1)

	body, err := io.ReadAll(r.Body)
	require.NoError(p.t, err)
	p.bodies <- string(body)

	_, gotPreimage, err := l402.FromHeader(&r.Header)
	if err == nil && gotPreimage == p.preimage {
		fmt.Fprint(w, "paid content")
		return
	}

	header := w.Header()
	err = l402.SetChallengeHeader(&header, p.mac, testInvoice)
	require.NoError(p.t, err)
	w.WriteHeader(http.StatusPaymentRequired)
}

// TestClientPaysChallenge tests the full payment flow: the first request is
// served a challenge, paid and retried, the second request reuses the stored
// credential without paying again.
func TestClientPaysChallenge(t *testing.T) {
	t.Parallel()

	wall := newPaywall(t, testPreimage)
	testPayer := &mockPayer{preimage: testPreimage}
	store := credentials.NewMemoryStore()
	c := New(WithPayer(testPayer), WithStore(store))

	ctx := context.Background()
	resp, err := c.Get(ctx, wall.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "paid content", string(body))

	// Challenge and retry mean two requests hit the server, exactly one
	// payment was made and the credential is on record.
	require.EqualValues(t, 2, wall.hits.Load())
	require.Equal(t, 1, testPayer.calls)
	require.Equal(t, testInvoice, testPayer.lastInvoice)

	cred, err := store.Get(ctx, wall.server.URL)
	require.NoError(t, err)
	require.True(t, cred.Paid())
	require.Equal(t, wall.server.URL, cred.Location)

	// The second request attaches the stored credential directly, no
	// further payment happens.
	resp, err = c.Get(ctx, wall.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, wall.hits.Load())
	require.Equal(t, 1, testPayer.calls)
}

// TestClientMissingChallenge tests that a payment required response without
// a challenge header fails the request without attempting a payment.
func TestClientMissingChallenge(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		},
	))
	defer server.Close()

	testPayer := &mockPayer{preimage: testPreimage}
	c := New(WithPayer(testPayer))

	_, err := c.Get(context.Background(), server.URL)
	require.ErrorIs(t, err, l402.ErrMissingChallenge)
	require.Equal(t, 0, testPayer.calls)
}

// TestClientMalformedChallenge tests that a challenge header that can't be
// parsed fails the request without attempting a payment.
func TestClientMalformedChallenge(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(
				l402.AuthHeader,
				`L402 macaroon="!!!", invoice="lnbc1"`,
			)
			w.WriteHeader(http.StatusPaymentRequired)
		},
	))
	defer server.Close()

	testPayer := &mockPayer{preimage: testPreimage}
	c := New(WithPayer(testPayer))

	_, err := c.Get(context.Background(), server.URL)
	require.ErrorIs(t, err, l402.ErrMalformedChallenge)
	require.Equal(t, 0, testPayer.calls)
}

// TestClientNoSecondPayment tests that a server refusing the paid token gets
// its response handed to the caller instead of triggering another payment.
func TestClientNoSecondPayment(t *testing.T) {
	t.Parallel()

	mac := newChallengeMacaroon(t, testPreimage)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)

			header := w.Header()
			err := l402.SetChallengeHeader(
				&header, mac, testInvoice,
			)
			require.NoError(t, err)
			w.WriteHeader(http.StatusPaymentRequired)
		},
	))
	defer server.Close()

	testPayer := &mockPayer{preimage: testPreimage}
	c := New(WithPayer(testPayer))

	resp, err := c.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The engine pays once, retries once and then hands the refusal to
	// the caller.
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, 1, testPayer.calls)
}

// TestClientPaymentFailure tests that a failed payment surfaces to the
// caller and leaves no credential behind.
func TestClientPaymentFailure(t *testing.T) {
	t.Parallel()

	wall := newPaywall(t, testPreimage)
	testPayer := &mockPayer{
		err: fmt.Errorf("%w: no route", payer.ErrPaymentFailed),
	}
	store := credentials.NewMemoryStore()
	c := New(WithPayer(testPayer), WithStore(store))

	ctx := context.Background()
	_, err := c.Get(ctx, wall.server.URL)
	require.ErrorIs(t, err, payer.ErrPaymentFailed)

	_, err = store.Get(ctx, wall.server.URL)
	require.ErrorIs(t, err, credentials.ErrNoCredential)
}

// TestClientNoPayer tests that a client without a payer can't answer a
// challenge.
func TestClientNoPayer(t *testing.T) {
	t.Parallel()

	wall := newPaywall(t, testPreimage)
	c := New()

	_, err := c.Get(context.Background(), wall.server.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no payer is configured")
}

// TestClientPostBodyReplay tests that the body of a POST request is sent
// again unchanged on the post-payment retry.
func TestClientPostBodyReplay(t *testing.T) {
	t.Parallel()

	wall := newPaywall(t, testPreimage)
	c := New(WithPayer(&mockPayer{preimage: testPreimage}))

	resp, err := c.Post(
		context.Background(), wall.server.URL, "text/plain",
		strings.NewReader("hello"),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", <-wall.bodies)
	require.Equal(t, "hello", <-wall.bodies)
}

// TestRoundTripper tests that the engine works as a transport of a plain
// http.Client.
func TestRoundTripper(t *testing.T) {
	t.Parallel()

	wall := newPaywall(t, testPreimage)
	engine := New(WithPayer(&mockPayer{preimage: testPreimage}))
	httpClient := &http.Client{Transport: NewRoundTripper(engine)}

	resp, err := httpClient.Get(wall.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "paid content", string(body))
}

// TestDefaultClient tests the package level convenience client.
func TestDefaultClient(t *testing.T) {
	// Not parallel, the default client is process-wide state.
	wall := newPaywall(t, testPreimage)
	Configure(WithPayer(&mockPayer{preimage: testPreimage}))
	defer Configure()

	resp, err := Get(context.Background(), wall.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
