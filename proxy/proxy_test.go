package proxy_test

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/pricer"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightningnetwork/lnd/cert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc/codes"
)

const (
	testProxyAddr            = "localhost:10019"
	testHostRegexp           = "^localhost:.*$"
	testPathRegexpHTTP       = "^/http/.*$"
	testPathRegexpGRPC       = "^/proxy_test.*$"
	testTargetServiceAddress = "localhost:8082"
	testHTTPResponseBody     = "HTTP Hello"
)

// TestProxyHTTP tests that the proxy can forward HTTP requests to a backend
// service and handle L402 authentication correctly.
func TestProxyHTTP(t *testing.T) {
	// Create a list of services to proxy between.
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "http",
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	// Start server that gives requests to the proxy.
	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	// Start the target backend service.
	backendService := &http.Server{Addr: testTargetServiceAddress}
	go func() { _ = startBackendHTTP(backendService) }()
	defer backendService.Close()

	// Wait for servers to start.
	time.Sleep(100 * time.Millisecond)

	// Test making a request to the backend service without the
	// Authorization header set.
	client := &http.Client{}
	url := fmt.Sprintf("http://%s/http/test", testProxyAddr)
	resp, err := client.Get(url)
	require.NoError(t, err)

	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	authHeader := resp.Header.Get("Www-Authenticate")
	require.Contains(t, authHeader, "L402")

	// The challenge must arrive with the CORS headers browser clients
	// need to read it.
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "payment required\n", string(body))

	// An OPTIONS preflight is answered directly by the proxy, CORS
	// headers only.
	req, err := http.NewRequest(http.MethodOptions, url, nil)
	require.NoError(t, err)

	resp, err = client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	// Make sure that if the Auth header is set, the client's request is
	// proxied to the backend service.
	req, err = http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Add("Authorization", "foobar")

	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Ensure that we got the response body we expect.
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, testHTTPResponseBody, string(body))
}

// TestProxyHTTPS tests that the proxy can forward requests to a backend
// service that is only reachable over TLS, using the certificate configured
// for the service.
func TestProxyHTTPS(t *testing.T) {
	// Since the backend only speaks TLS, we need to generate a certificate
	// and key pair first.
	certBytes, keyBytes, err := cert.GenCertPair(
		"tollgate autogenerated cert", nil, nil, false, 24*time.Hour,
	)
	require.NoError(t, err)

	tempDirName := t.TempDir()
	certFile := filepath.Join(tempDirName, "proxy.cert")
	keyFile := filepath.Join(tempDirName, "proxy.key")
	err = cert.WriteCertPair(certFile, keyFile, certBytes, keyBytes)
	require.NoError(t, err)

	tlsCert, _, err := cert.LoadCertFromBytes(certBytes, keyBytes)
	require.NoError(t, err)

	// Create a list of services to proxy between.
	services := []*proxy.Service{{
		Address:     testTargetServiceAddress,
		HostRegexp:  testHostRegexp,
		PathRegexp:  testPathRegexpHTTP,
		Protocol:    "https",
		TLSCertPath: certFile,
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	// Start the target backend service on TLS.
	backendService := &http.Server{
		Addr: testTargetServiceAddress,
		Handler: http.HandlerFunc(func(w http.ResponseWriter,
			r *http.Request) {

			_, _ = w.Write([]byte(testHTTPResponseBody))
		}),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{tlsCert},
		},
	}
	go func() { _ = backendService.ListenAndServeTLS("", "") }()
	defer backendService.Close()

	time.Sleep(100 * time.Millisecond)

	// An authorized request is terminated at the proxy and forwarded to
	// the backend over TLS.
	url := fmt.Sprintf("http://%s/http/test", testProxyAddr)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Add("Authorization", "foobar")

	resp, err := (&http.Client{}).Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, testHTTPResponseBody, string(body))
}

// TestProxyGRPCStatus tests that unauthenticated requests of gRPC clients are
// answered with the call status in the response headers instead of a plain
// HTTP error body.
func TestProxyGRPCStatus(t *testing.T) {
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpGRPC,
		Protocol:   "http",
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	time.Sleep(100 * time.Millisecond)

	// Issue a request the way a gRPC client would frame it on the wire,
	// without any authentication.
	url := fmt.Sprintf(
		"http://%s/proxy_test.Greeter/SayHello", testProxyAddr,
	)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/grpc")

	resp, err := (&http.Client{}).Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// gRPC clients read the call result from the dedicated status headers.
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.Equal(t, "application/grpc", resp.Header.Get("Content-Type"))
	require.Equal(
		t, strconv.Itoa(int(codes.Internal)),
		resp.Header.Get("Grpc-Status"),
	)
	require.Equal(t, "payment required", resp.Header.Get("Grpc-Message"))

	// The challenge itself still rides along for clients that can pay.
	require.Contains(t, resp.Header.Get("Www-Authenticate"), "L402")
}

// TestProxyH2C tests that the proxy forwards requests to backends configured
// with the h2c protocol over cleartext HTTP/2.
func TestProxyH2C(t *testing.T) {
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "h2c",
		Auth:       "off",
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	// The backend reports the protocol the request arrived with, which is
	// the only way to tell a cleartext HTTP/2 request from a HTTP/1.1 one.
	handler := http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {

		w.Header().Set("X-Backend-Proto", r.Proto)
		_, _ = w.Write([]byte(testHTTPResponseBody))
	})
	backendService := &http.Server{
		Addr:    testTargetServiceAddress,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
	go func() { _ = backendService.ListenAndServe() }()
	defer backendService.Close()

	time.Sleep(100 * time.Millisecond)

	url := fmt.Sprintf("http://%s/http/test", testProxyAddr)
	resp, err := (&http.Client{}).Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "HTTP/2.0", resp.Header.Get("X-Backend-Proto"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, testHTTPResponseBody, string(body))
}

// TestProxyAuthWhitelist tests that paths on the auth whitelist of a service
// are proxied without a token while all other paths still require one.
func TestProxyAuthWhitelist(t *testing.T) {
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "http",
		Auth:       "on",
		AuthWhitelistPaths: []string{
			"^/http/open.*$",
		},
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	backendService := &http.Server{Addr: testTargetServiceAddress}
	go func() { _ = startBackendHTTP(backendService) }()
	defer backendService.Close()

	time.Sleep(100 * time.Millisecond)

	client := &http.Client{}

	// The whitelisted path passes without any authentication.
	url := fmt.Sprintf("http://%s/http/open/info", testProxyAddr)
	resp, err := client.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, testHTTPResponseBody, string(body))

	// Everything else is still behind the paywall.
	url = fmt.Sprintf("http://%s/http/test", testProxyAddr)
	resp, err = client.Get(url)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

// TestProxyFreebie tests that services on the freebie auth level let a limited
// number of requests per client address range through before they start
// challenging.
func TestProxyFreebie(t *testing.T) {
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "http",
		Auth:       "freebie 2",
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	backendService := &http.Server{Addr: testTargetServiceAddress}
	go func() { _ = startBackendHTTP(backendService) }()
	defer backendService.Close()

	time.Sleep(100 * time.Millisecond)

	client := &http.Client{}
	url := fmt.Sprintf("http://%s/http/test", testProxyAddr)

	// The first two requests are on the house.
	for i := 0; i < 2; i++ {
		resp, err := client.Get(url)
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, testHTTPResponseBody, string(body))
	}

	// The third one has to pay.
	resp, err := client.Get(url)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Www-Authenticate"), "L402")

	// Authenticated clients aren't counted against the free budget.
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Add("Authorization", "foobar")

	resp, err = client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestProxyDynamicPrice tests that a service with a dynamic price endpoint
// challenges with the price quoted for the path and serves resources the
// endpoint declares free without a token.
func TestProxyDynamicPrice(t *testing.T) {
	// The price endpoint quotes zero sats for one specific path and a real
	// price for everything else.
	priceServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var priceReq struct {
				Path string `json:"path"`
			}
			err := json.NewDecoder(r.Body).Decode(&priceReq)
			require.NoError(t, err)

			price := int64(42)
			if priceReq.Path == "/http/free" {
				price = 0
			}
			err = json.NewEncoder(w).Encode(map[string]int64{
				"price": price,
			})
			require.NoError(t, err)
		},
	))
	defer priceServer.Close()

	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "http",
		Auth:       "on",
		DynamicPrice: pricer.Config{
			Enabled: true,
			URL:     priceServer.URL,
		},
	}}

	mockAuth := auth.NewMockAuthenticator()
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	backendService := &http.Server{Addr: testTargetServiceAddress}
	go func() { _ = startBackendHTTP(backendService) }()
	defer backendService.Close()

	time.Sleep(100 * time.Millisecond)

	client := &http.Client{}

	// The free path is proxied straight through, no token required.
	url := fmt.Sprintf("http://%s/http/free", testProxyAddr)
	resp, err := client.Get(url)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, testHTTPResponseBody, string(body))

	// Paths with a positive quote are challenged.
	url = fmt.Sprintf("http://%s/http/test", testProxyAddr)
	resp, err = client.Get(url)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

// TestProxyStaticFiles tests that requests that match no service are answered
// by the static file server if one is configured and with a 404 otherwise.
func TestProxyStaticFiles(t *testing.T) {
	services := []*proxy.Service{{
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		PathRegexp: testPathRegexpHTTP,
		Protocol:   "http",
	}}
	mockAuth := auth.NewMockAuthenticator()

	// Without static file serving everything unmatched is a 404.
	p, err := proxy.New(mockAuth, services, false, "")
	require.NoError(t, err)

	server := &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()

	time.Sleep(100 * time.Millisecond)

	url := fmt.Sprintf("http://%s/index.html", testProxyAddr)
	resp, err := (&http.Client{}).Get(url)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, server.Close())

	// Now serve a directory with an actual file in it.
	staticRoot := t.TempDir()
	err = os.WriteFile(
		filepath.Join(staticRoot, "index.html"),
		[]byte("Static Hello"), 0644,
	)
	require.NoError(t, err)

	p, err = proxy.New(mockAuth, services, true, staticRoot)
	require.NoError(t, err)

	server = &http.Server{
		Addr:    testProxyAddr,
		Handler: p,
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	time.Sleep(100 * time.Millisecond)

	resp, err = (&http.Client{}).Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "Static Hello", string(body))
}

// TestProxyServiceValidation tests that the proxy refuses service
// configurations it can't route requests with.
func TestProxyServiceValidation(t *testing.T) {
	mockAuth := auth.NewMockAuthenticator()

	_, err := proxy.New(mockAuth, []*proxy.Service{{
		Name:       "broken",
		Address:    testTargetServiceAddress,
		PathRegexp: testPathRegexpHTTP,
	}}, false, "")
	require.ErrorContains(t, err, "missing the host regular expression")

	_, err = proxy.New(mockAuth, []*proxy.Service{{
		Name:       "broken",
		Address:    testTargetServiceAddress,
		HostRegexp: testHostRegexp,
		Protocol:   "ftp",
	}}, false, "")
	require.ErrorContains(t, err, "unsupported protocol")
}

// startBackendHTTP starts the given HTTP server and blocks until the server
// is shut down.
func startBackendHTTP(server *http.Server) error {
	sayHello := func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(testHTTPResponseBody))
		if err != nil {
			panic(err)
		}
	}
	server.Handler = http.HandlerFunc(sayHello)
	return server.ListenAndServe()
}

