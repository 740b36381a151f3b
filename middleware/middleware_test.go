package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/middleware"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

const (
	testService = "restricted"
	testInvoice = "lnbc1500n1pw5kjhm"
)

var testPreimage = lntypes.Preimage{1, 2, 3, 4}

func init() {
	gin.SetMode(gin.TestMode)
}

// fixedChallenger hands out the same invoice for every challenge and records
// the price it was asked for.
type fixedChallenger struct {
	err       error
	lastPrice int64
}

func (c *fixedChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	if c.err != nil {
		return "", lntypes.Hash{}, c.err
	}

	c.lastPrice = price
	return testInvoice, testPreimage.Hash(), nil
}

func (c *fixedChallenger) Stop() {}

// openLimiter imposes no restrictions beyond the services caveat the mint
// adds itself.
type openLimiter struct{}

func (openLimiter) ServiceCapabilities(context.Context,
	...l402.Service) ([]l402.Caveat, error) {

	return nil, nil
}

func (openLimiter) ServiceConstraints(context.Context,
	...l402.Service) ([]l402.Caveat, error) {

	return nil, nil
}

func (openLimiter) ServiceTimeouts(context.Context,
	...l402.Service) ([]l402.Caveat, error) {

	return nil, nil
}

// newTestConfig wires a middleware config against a real mint so that minted
// tokens survive a full round trip through validation.
func newTestConfig(t *testing.T,
	challenger mint.Challenger) *middleware.Config {

	t.Helper()

	m := mint.New(&mint.Config{
		Secrets:        mint.NewMemorySecretStore(),
		Challenger:     challenger,
		ServiceLimiter: openLimiter{},
		Now:            time.Now,
	})

	return &middleware.Config{
		Authenticator: auth.NewL402Authenticator(
			m, &auth.MockChecker{},
		),
		ServiceName: testService,
	}
}

// payChallenge parses a challenge response and returns the authentication
// header of a client that paid the invoice.
func payChallenge(t *testing.T, rec *httptest.ResponseRecorder) http.Header {
	t.Helper()

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	header := rec.Header()
	challenge, err := l402.ChallengeFromHeader(&header)
	require.NoError(t, err)
	require.Equal(t, testInvoice, challenge.Invoice)

	paid := make(http.Header)
	err = l402.SetHeader(&paid, challenge.Macaroon, testPreimage)
	require.NoError(t, err)

	return paid
}

// tokenIDHandler records the token ID found in the request context and
// responds with a fixed body.
func tokenIDHandler(gotTokenID *l402.TokenID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := l402.FromContext(
			r.Context(), l402.KeyTokenID,
		).(l402.TokenID)
		if ok {
			*gotTokenID = id
		}

		_, _ = w.Write([]byte("granted"))
	})
}

// TestHandlerLifecycle goes through the full flow of being challenged, paying
// and then being granted access with the token ID attached to the request
// context.
func TestHandlerLifecycle(t *testing.T) {
	t.Parallel()

	challenger := &fixedChallenger{}
	cfg := newTestConfig(t, challenger)

	var gotTokenID l402.TokenID
	handler := middleware.Handler(cfg, tokenIDHandler(&gotTokenID))

	// The first request doesn't carry a token and must be answered with a
	// challenge.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	paid := payChallenge(t, rec)
	require.EqualValues(t, middleware.DefaultPrice, challenger.lastPrice)

	// Presenting the paid token now grants access.
	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header = paid

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "granted", rec.Body.String())

	// The handler must have seen the token ID the mint embedded in the
	// macaroon's identifier.
	mac, _, err := l402.FromHeader(&paid)
	require.NoError(t, err)
	identifier, err := l402.DecodeIdentifier(bytes.NewReader(mac.Id()))
	require.NoError(t, err)
	require.Equal(t, identifier.TokenID, gotTokenID)
}

// TestHandlerChallengeIsClean asserts that none of the client's request
// headers are reflected back in the challenge response.
func TestHandlerChallengeIsClean(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, &fixedChallenger{})
	handler := middleware.Handler(cfg, http.NotFoundHandler())

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("X-Client-Secret", "hunter2")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Empty(t, rec.Header().Get("X-Client-Secret"))
	require.NotEmpty(t, rec.Header().Get(l402.AuthHeader))
}

// TestHandlerSkipPaths asserts that exempt path prefixes are served without
// any authentication.
func TestHandlerSkipPaths(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, &fixedChallenger{})
	cfg.SkipPaths = []string{"/health"}

	var gotTokenID l402.TokenID
	handler := middleware.Handler(cfg, tokenIDHandler(&gotTokenID))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, l402.TokenID{}, gotTokenID)

	// Anything outside the exempt prefixes is still challenged.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

// TestHandlerPriceFunction asserts that a configured price function
// determines the price of the minted challenge.
func TestHandlerPriceFunction(t *testing.T) {
	t.Parallel()

	challenger := &fixedChallenger{}
	cfg := newTestConfig(t, challenger)
	cfg.Price = func(r *http.Request) int64 {
		if r.URL.Path == "/expensive" {
			return 42_000
		}
		return 100
	}

	handler := middleware.Handler(cfg, http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/expensive", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.EqualValues(t, 42_000, challenger.lastPrice)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/cheap", nil))

	require.EqualValues(t, 100, challenger.lastPrice)
}

// TestHandlerMintFailure asserts that a failing challenger results in an
// internal server error instead of a broken challenge.
func TestHandlerMintFailure(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, &fixedChallenger{
		err: errors.New("node unavailable"),
	})
	handler := middleware.Handler(cfg, http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "challenge creation failed")
}

// TestGinMiddleware asserts that the gin adapter challenges, aborts the
// handler chain and grants access after payment.
func TestGinMiddleware(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, &fixedChallenger{})

	var handlerCalled bool
	router := gin.New()
	router.Use(middleware.Gin(cfg))
	router.GET("/paid", func(c *gin.Context) {
		handlerCalled = true

		_, ok := l402.FromContext(
			c.Request.Context(), l402.KeyTokenID,
		).(l402.TokenID)
		require.True(t, ok)

		c.String(http.StatusOK, "granted")
	})

	// Unauthenticated requests must be challenged without reaching the
	// handler.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	paid := payChallenge(t, rec)
	require.False(t, handlerCalled)

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header = paid

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "granted", rec.Body.String())
	require.True(t, handlerCalled)
}

// TestEchoMiddleware asserts that the echo adapter challenges and grants
// access after payment.
func TestEchoMiddleware(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, &fixedChallenger{})

	var handlerCalled bool
	router := echo.New()
	router.Use(middleware.Echo(cfg))
	router.GET("/paid", func(c echo.Context) error {
		handlerCalled = true

		_, ok := l402.FromContext(
			c.Request().Context(), l402.KeyTokenID,
		).(l402.TokenID)
		require.True(t, ok)

		return c.String(http.StatusOK, "granted")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	paid := payChallenge(t, rec)
	require.False(t, handlerCalled)

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header = paid

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "granted", rec.Body.String())
	require.True(t, handlerCalled)
}
