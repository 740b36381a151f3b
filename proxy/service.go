package proxy

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/freebie"
	"github.com/lightninglabs/tollgate/pricer"
)

const (
	// DefaultServicePrice is the price in satoshis used for services that
	// don't configure one.
	DefaultServicePrice = 1

	// protocolHTTP signals a plain HTTP/1.1 or HTTP/2 over TLS backend.
	protocolHTTP = "http"

	// protocolHTTPS signals a TLS backend.
	protocolHTTPS = "https"

	// protocolH2C signals a backend that speaks HTTP/2 cleartext. This is
	// what gRPC servers without TLS use.
	protocolH2C = "h2c"
)

// Service generically specifies configuration data for backend services to
// the tollgate proxy.
type Service struct {
	// Name is the name of the L402-enabled service.
	Name string `long:"name" description:"Name of the L402-enabled service" yaml:"name"`

	// TLSCertPath is the optional path to the service's TLS certificate.
	TLSCertPath string `long:"tlscertpath" description:"Path to the service's TLS certificate" yaml:"tlscertpath"`

	// Address is the service's IP address and port.
	Address string `long:"address" description:"service instance address" yaml:"address"`

	// Protocol is the protocol that should be used to connect to the
	// service. Currently supported is http, https and h2c.
	Protocol string `long:"protocol" description:"Protocol used to connect to the service (http, https, h2c)" yaml:"protocol"`

	// Auth is the authentication level required for this service to be
	// accessed. Valid values are "on" for full authentication, "freebie X"
	// for X free requests per IP address before authentication is required
	// or "off" for no authentication at all.
	Auth auth.Level `long:"auth" description:"Authentication level required to access this service (on|off|freebie X)" yaml:"auth"`

	// HostRegexp is a regular expression that is tested against the 'Host'
	// HTTP header field to find out if this service should be used.
	HostRegexp string `long:"hostregexp" description:"Regular expression to match the host against" yaml:"hostregexp"`

	// PathRegexp is a regular expression that is tested against the path
	// of the URL of a request to find out if this service should be used.
	PathRegexp string `long:"pathregexp" description:"Regular expression to match the path of the URL against" yaml:"pathregexp"`

	// Timeout is an optional maximum life span, in seconds, of tokens
	// minted for this service. If set, minted tokens carry a timeout
	// caveat.
	Timeout int64 `long:"timeout" description:"Maximum life span in seconds of minted tokens" yaml:"timeout"`

	// Capabilities is the comma separated list of capabilities granted to
	// tokens minted for this service.
	Capabilities string `long:"capabilities" description:"Comma separated list of capabilities granted to the service's tokens" yaml:"capabilities"`

	// Constraints is an arbitrary set of caveat conditions and values
	// added to tokens minted for this service.
	Constraints map[string]string `long:"constraints" description:"Additional caveat conditions added to the service's tokens" yaml:"constraints"`

	// Price is the static price in satoshis to be paid for accessing the
	// service's endpoints.
	Price int64 `long:"price" description:"Static price of the service in satoshis" yaml:"price"`

	// DynamicPrice holds the configuration of the optional remote price
	// endpoint. If enabled, it overrides the static price.
	DynamicPrice pricer.Config `long:"dynamicprice" description:"Remote price endpoint configuration" yaml:"dynamicprice"`

	// AuthWhitelistPaths is an optional list of regular expressions that
	// are matched against the path of the URL of a request. If the request
	// URL matches any of those regular expressions, the request is treated
	// as if the Auth type was set to "off".
	AuthWhitelistPaths []string `long:"authwhitelistpaths" description:"List of path regular expressions that are exempt from authentication" yaml:"authwhitelistpaths"`

	// AuthSkipInvoiceCreationPaths is an optional list of regular
	// expressions that are matched against the path of the URL of a
	// request. Unauthenticated requests to matching paths are denied
	// without creating an invoice first. This is useful for streaming
	// endpoints that cannot be paid for while in flight.
	AuthSkipInvoiceCreationPaths []string `long:"authskipinvoicecreationpaths" description:"List of path regular expressions that are denied without creating an invoice" yaml:"authskipinvoicecreationpaths"`

	// RateLimits is an optional list of rate limits that are applied to
	// requests for this service after authentication.
	RateLimits []RateLimit `long:"ratelimits" description:"Rate limits applied to matching request paths" yaml:"ratelimits"`

	// freebieDB keeps track of the free requests a client IP address has
	// left. Only set if the auth level is a freebie level.
	freebieDB freebie.DB

	// pricer resolves the dynamic price of a resource. Only set if
	// DynamicPrice is enabled.
	pricer pricer.Pricer

	compiledHostRegexp *regexp.Regexp
	compiledPathRegexp *regexp.Regexp

	compiledAuthWhitelistPaths           []*regexp.Regexp
	compiledAuthSkipInvoiceCreationPaths []*regexp.Regexp
}

// AuthRequired returns the auth level the given request requires, taking the
// whitelisted paths of the service into account.
func (s *Service) AuthRequired(r *http.Request) auth.Level {
	for _, whitelistRegexp := range s.compiledAuthWhitelistPaths {
		if whitelistRegexp.MatchString(r.URL.Path) {
			return auth.LevelOff
		}
	}

	return s.Auth
}

// SkipInvoiceCreation returns true if unauthenticated requests to the given
// request's path should be denied without the cost of creating an invoice.
func (s *Service) SkipInvoiceCreation(r *http.Request) bool {
	for _, skipRegexp := range s.compiledAuthSkipInvoiceCreationPaths {
		if skipRegexp.MatchString(r.URL.Path) {
			return true
		}
	}

	return false
}

// prepareServices compiles the regular expressions of the given services and
// sets up their supporting stores. This must be called before the proxy
// dispatches any request to the services.
func prepareServices(services []*Service) error {
	for _, service := range services {
		// Each service must at least specify a host.
		if service.HostRegexp == "" {
			return fmt.Errorf("service %s is missing the host "+
				"regular expression", service.Name)
		}

		hostRegexp, err := regexp.Compile(service.HostRegexp)
		if err != nil {
			return fmt.Errorf("error validating host regexp of "+
				"service %s: %w", service.Name, err)
		}
		service.compiledHostRegexp = hostRegexp

		// The path regexp is optional, a service can serve its whole
		// host.
		if service.PathRegexp != "" {
			pathRegexp, err := regexp.Compile(service.PathRegexp)
			if err != nil {
				return fmt.Errorf("error validating path "+
					"regexp of service %s: %w",
					service.Name, err)
			}
			service.compiledPathRegexp = pathRegexp
		}

		switch service.Protocol {
		case "":
			service.Protocol = protocolHTTP

		case protocolHTTP, protocolHTTPS, protocolH2C:

		default:
			return fmt.Errorf("service %s: unsupported protocol "+
				"%s", service.Name, service.Protocol)
		}

		// Set up the store for the free request tally if the auth
		// level requires one.
		if service.Auth.IsFreebie() {
			service.freebieDB = freebie.NewMemIPMaskStore(
				service.Auth.FreebieCount(),
			)
		}

		// A dynamic price endpoint overrides the static price.
		if service.DynamicPrice.Enabled {
			servicePricer, err := pricer.NewHTTPPricer(
				&service.DynamicPrice,
			)
			if err != nil {
				return fmt.Errorf("error creating pricer of "+
					"service %s: %w", service.Name, err)
			}
			service.pricer = servicePricer
		}

		service.compiledAuthWhitelistPaths, err = compilePathSet(
			service.AuthWhitelistPaths,
		)
		if err != nil {
			return fmt.Errorf("error validating auth whitelist "+
				"of service %s: %w", service.Name, err)
		}

		service.compiledAuthSkipInvoiceCreationPaths, err = compilePathSet(
			service.AuthSkipInvoiceCreationPaths,
		)
		if err != nil {
			return fmt.Errorf("error validating invoice skip "+
				"list of service %s: %w", service.Name, err)
		}

		for i := range service.RateLimits {
			if err := service.RateLimits[i].compile(); err != nil {
				return fmt.Errorf("error validating rate "+
					"limit of service %s: %w",
					service.Name, err)
			}
		}
	}

	return nil
}

// compilePathSet compiles a list of path regular expressions.
func compilePathSet(paths []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, len(paths))
	for i, path := range paths {
		pathRegexp, err := regexp.Compile(path)
		if err != nil {
			return nil, err
		}
		compiled[i] = pathRegexp
	}

	return compiled, nil
}
