package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"strconv"
	"strings"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/l402"
	"golang.org/x/net/http2"
	"google.golang.org/grpc/codes"
)

const (
	// contentTypeHeader is the HTTP header field that announces the
	// content type of a request or response.
	contentTypeHeader = "Content-Type"

	// grpcContentType is the content type prefix that requests of gRPC
	// clients carry.
	grpcContentType = "application/grpc"

	// grpcStatusHeader is the HTTP header field a gRPC client reads the
	// status code of a call from.
	grpcStatusHeader = "Grpc-Status"

	// grpcMessageHeader is the HTTP header field a gRPC client reads the
	// status message of a call from.
	grpcMessageHeader = "Grpc-Message"
)

// Proxy is a HTTP, HTTP/2 and gRPC handler that takes an incoming request,
// uses its authenticator to validate the request's headers, and either returns
// a challenge to the client or forwards the request to another server and
// proxies the response back to the client.
type Proxy struct {
	proxyBackend  *httputil.ReverseProxy
	staticServer  http.Handler
	authenticator auth.Authenticator
	services      []*Service
}

// New returns a new Proxy instance that proxies between the services
// specified, using the auth to validate each request's headers and get new
// challenge headers if necessary.
func New(auth auth.Authenticator, services []*Service, serveStatic bool,
	staticRoot string) (*Proxy, error) {

	// Everything that can't be matched to a service is dispatched to the
	// static server. Actually serving files has to be enabled explicitly,
	// the default is to answer with a 404.
	staticServer := http.NotFoundHandler()
	if serveStatic {
		staticServer = http.FileServer(http.Dir(staticRoot))
	}

	proxy := &Proxy{
		staticServer:  staticServer,
		authenticator: auth,
	}
	if err := proxy.UpdateServices(services); err != nil {
		return nil, err
	}

	return proxy, nil
}

// UpdateServices re-configures the proxy to dispatch between a new set of
// backend services.
func (p *Proxy) UpdateServices(services []*Service) error {
	if err := prepareServices(services); err != nil {
		return err
	}

	certPool, err := certPool(services)
	if err != nil {
		return err
	}

	p.services = services
	p.proxyBackend = &httputil.ReverseProxy{
		Director: p.director,
		Transport: &backendTransport{
			standard: &http.Transport{
				ForceAttemptHTTP2: true,
				TLSClientConfig: &tls.Config{
					RootCAs:            certPool,
					InsecureSkipVerify: true,
				},
			},
			h2c: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context,
					network, addr string,
					_ *tls.Config) (net.Conn, error) {

					var d net.Dialer
					return d.DialContext(
						ctx, network, addr,
					)
				},
			},
		},
		ModifyResponse: func(res *http.Response) error {
			addCorsHeaders(res.Header)
			return nil
		},

		// A negative value means to flush immediately after each
		// write to the client, which is required for streaming gRPC
		// responses.
		FlushInterval: -1,
	}

	return nil
}

// backendTransport dispatches outgoing requests to the transport that matches
// the protocol the target service was configured with.
type backendTransport struct {
	standard *http.Transport
	h2c      *http2.Transport
}

// RoundTrip forwards the request on the transport matching its URL scheme.
func (t *backendTransport) RoundTrip(req *http.Request) (*http.Response,
	error) {

	// The h2c scheme only selects the cleartext HTTP/2 transport, on the
	// wire the protocol is plain http.
	if req.URL.Scheme == protocolH2C {
		req.URL.Scheme = protocolHTTP
		return t.h2c.RoundTrip(req)
	}

	return t.standard.RoundTrip(req)
}

// certPool builds a pool of the root certificates of all TLS enabled backend
// services.
func certPool(services []*Service) (*x509.CertPool, error) {
	cp := x509.NewCertPool()
	for _, service := range services {
		if service.TLSCertPath == "" {
			continue
		}

		b, err := os.ReadFile(service.TLSCertPath)
		if err != nil {
			return nil, err
		}

		if !cp.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("credentials: failed to " +
				"append certificate")
		}
	}

	return cp, nil
}

// matchService finds the backend service a request is meant for by matching
// the request's host and path against the patterns of all services.
func matchService(req *http.Request, services []*Service) (*Service, bool) {
	for _, service := range services {
		if !service.compiledHostRegexp.MatchString(req.Host) {
			continue
		}

		if service.compiledPathRegexp == nil {
			return service, true
		}

		if service.compiledPathRegexp.MatchString(req.URL.Path) {
			return service, true
		}
	}

	log.Debugf("No backend service matched request [%s%s]", req.Host,
		req.URL.Path)

	return nil, false
}

// director rewrites an incoming request to be forwarded to the matched
// backend service.
func (p *Proxy) director(req *http.Request) {
	target, ok := matchService(req, p.services)
	if !ok {
		return
	}

	req.URL.Host = target.Address
	req.URL.Scheme = target.Protocol
}

// addCorsHeaders adds the CORS headers browser based clients need to header.
func addCorsHeaders(header http.Header) {
	header.Add("Access-Control-Allow-Origin", "*")
	header.Add("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Add(
		"Access-Control-Allow-Headers",
		"Authorization, Grpc-Metadata-macaroon, Grpc-Metadata-Macaroon",
	)
}

// ServeHTTP checks a client's headers for appropriate authorization and either
// returns a challenge or forwards their request to the target backend service.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browser based and gRPC web clients preflight their requests with
	// the OPTIONS method. Those only need the CORS headers, no content.
	if r.Method == http.MethodOptions {
		addCorsHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	// Requests that can't be matched to a service are dispatched to the
	// static file server.
	target, ok := matchService(r, p.services)
	if !ok {
		p.staticServer.ServeHTTP(w, r)
		return
	}

	// Determine the auth level required to access this service and
	// dispatch the request accordingly.
	authLevel := target.AuthRequired(r)
	switch {
	case authLevel.IsOn():
		if p.authenticator.Accept(&r.Header, target.Name) {
			break
		}

		// Streaming endpoints can't be paid for while the request is
		// in flight, those are denied without the cost of creating an
		// invoice first.
		if target.SkipInvoiceCreation(r) {
			log.Debugf("[%s] Denying %s without challenge",
				r.RemoteAddr, r.URL.Path)

			addCorsHeaders(w.Header())
			sendDirectResponse(
				w, r, http.StatusPaymentRequired,
				"payment required",
			)
			return
		}

		price, err := p.servicePrice(r, target)
		if err != nil {
			log.Errorf("[%s] Error querying price of %s: %v",
				r.RemoteAddr, r.URL.Path, err)

			sendDirectResponse(
				w, r, http.StatusInternalServerError,
				"failure fetching price",
			)
			return
		}

		// Zero priced resources are served without a token.
		if price == 0 {
			break
		}

		p.challengeClient(w, r, target.Name, price)
		return

	case authLevel.IsFreebie():
		// The free request tally only needs to be respected if the
		// client isn't authenticated at all.
		if p.authenticator.Accept(&r.Header, target.Name) {
			break
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			log.Errorf("[%s] Error parsing remote address: %v",
				r.RemoteAddr, err)

			sendDirectResponse(
				w, r, http.StatusInternalServerError,
				"invalid remote address",
			)
			return
		}
		ipAddress := net.ParseIP(host)

		canPass, err := target.freebieDB.CanPass(r, ipAddress)
		if err != nil {
			log.Errorf("[%s] Error checking free request tally: "+
				"%v", r.RemoteAddr, err)

			sendDirectResponse(
				w, r, http.StatusInternalServerError,
				"free request tally failed",
			)
			return
		}

		// The client used up its free requests and needs to pay like
		// everyone else from now on.
		if !canPass {
			price, err := p.servicePrice(r, target)
			if err != nil {
				log.Errorf("[%s] Error querying price of "+
					"%s: %v", r.RemoteAddr, r.URL.Path,
					err)

				sendDirectResponse(
					w, r,
					http.StatusInternalServerError,
					"failure fetching price",
				)
				return
			}

			p.challengeClient(w, r, target.Name, price)
			return
		}

		if _, err := target.freebieDB.TallyFreebie(
			r, ipAddress,
		); err != nil {
			log.Errorf("[%s] Error updating free request tally: "+
				"%v", r.RemoteAddr, err)

			sendDirectResponse(
				w, r, http.StatusInternalServerError,
				"free request tally failed",
			)
			return
		}
	}

	// The request made it through the authentication gate but may still
	// exceed one of the service's rate limits.
	if !p.enforceRateLimits(target, w, r) {
		return
	}

	// Everything is fine, pass the request on to the backend.
	p.proxyBackend.ServeHTTP(w, r)
}

// servicePrice resolves the price of the requested resource, either through
// the service's dynamic price endpoint or its static price. A price of zero
// means the resource is served without a token.
func (p *Proxy) servicePrice(r *http.Request, target *Service) (int64, error) {
	if target.pricer != nil {
		return target.pricer.GetPrice(r.Context(), r.URL.Path)
	}

	// Services without a configured price still challenge with the
	// default price, only a dynamic price endpoint can declare a resource
	// free.
	if target.Price == 0 {
		return DefaultServicePrice, nil
	}

	return target.Price, nil
}

// challengeClient answers an unauthenticated request with a fresh payment
// challenge.
func (p *Proxy) challengeClient(w http.ResponseWriter, r *http.Request,
	serviceName string, price int64) {

	header, err := p.authenticator.FreshChallengeHeader(
		r, serviceName, price,
	)
	if err != nil {
		log.Errorf("[%s] Error creating challenge header: %v",
			r.RemoteAddr, err)

		sendDirectResponse(
			w, r, http.StatusInternalServerError,
			"challenge creation failed",
		)
		return
	}

	addCorsHeaders(header)
	for name, value := range header {
		w.Header().Set(name, value[0])
		for i := 1; i < len(value); i++ {
			w.Header().Add(name, value[i])
		}
	}

	sendDirectResponse(w, r, http.StatusPaymentRequired, "payment required")
}

// enforceRateLimits applies every rate limit of the service that matches the
// request's path. It returns false if the request was denied, in which case
// the 429 response has already been written.
func (p *Proxy) enforceRateLimits(target *Service, w http.ResponseWriter,
	r *http.Request) bool {

	if len(target.RateLimits) == 0 {
		return true
	}

	key := rateLimitKey(r)
	for i := range target.RateLimits {
		compiled := target.RateLimits[i].compiled
		if compiled == nil || !compiled.re.MatchString(r.URL.Path) {
			continue
		}

		if compiled.allowFor(key) {
			continue
		}

		// Suggest a retry delay derived from the steady rate of the
		// bucket, rounded down to whole seconds but always at least
		// one.
		retryAfter := 1
		if delay, ok := compiled.reserveDelay(key); ok {
			if secs := int(delay.Seconds()); secs > retryAfter {
				retryAfter = secs
			}
		}

		log.Debugf("[%s] Rate limit exceeded for %s", r.RemoteAddr,
			r.URL.Path)

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		addCorsHeaders(w.Header())
		sendDirectResponse(
			w, r, http.StatusTooManyRequests,
			"rate limit exceeded",
		)

		return false
	}

	return true
}

// rateLimitKey derives the bucket key for per-token rate limiting. Requests
// that carry a parsable authentication header are keyed by their preimage,
// everything else shares the global bucket of the limit.
func rateLimitKey(r *http.Request) string {
	_, preimage, err := l402.FromHeader(&r.Header)
	if err != nil {
		return ""
	}

	return preimage.String()
}

// sendDirectResponse sends a response directly to the client without proxying
// anything to a backend, in the format matching the protocol the client
// speaks.
func sendDirectResponse(w http.ResponseWriter, r *http.Request,
	statusCode int, errInfo string) {

	// gRPC clients don't parse plain HTTP error bodies, they expect the
	// call status in dedicated header fields.
	contentType := r.Header.Get(contentTypeHeader)
	if strings.HasPrefix(contentType, grpcContentType) {
		w.Header().Set(contentTypeHeader, grpcContentType)
		w.Header().Set(
			grpcStatusHeader,
			strconv.Itoa(int(codes.Internal)),
		)
		w.Header().Set(grpcMessageHeader, errInfo)
		w.WriteHeader(statusCode)
		return
	}

	http.Error(w, errInfo, statusCode)
}
