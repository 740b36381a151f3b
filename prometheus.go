package tollgate

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// serviceLabel tags a metric with the backend service a request was
	// dispatched to, as identified by the request's host header.
	serviceLabel = "service"

	// statusLabel tags a metric with the HTTP status code of a response.
	statusLabel = "status"
)

var (
	// requestCount counts all proxied requests, partitioned by backend
	// host and response status.
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "requests_total",
		}, []string{serviceLabel, statusLabel},
	)

	// challengeCount counts the payment challenges handed out, partitioned
	// by backend host.
	challengeCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "challenges_issued_total",
		}, []string{serviceLabel},
	)
)

// PrometheusConfig is the set of configuration data that specifies if
// Prometheus metric exporting is activated, and if so the listening address of
// the Prometheus server.
type PrometheusConfig struct {
	// Enabled, if true, then Prometheus metrics will be exported.
	Enabled bool `yaml:"enabled" long:"enabled" description:"if true prometheus metrics will be exported"`

	// ListenAddr is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	ListenAddr string `yaml:"listenaddr" long:"listenaddr" description:"the interface we should listen on for prometheus"`
}

// StartPrometheusExporter registers all relevant metrics with the Prometheus
// library, then launches the HTTP server that Prometheus will hit to scrape
// our metrics.
func StartPrometheusExporter(cfg *PrometheusConfig) error {
	// If we're not active, then there's nothing more to do.
	if !cfg.Enabled {
		return nil
	}

	// Next, we'll register all our metrics.
	prometheus.MustRegister(requestCount)
	prometheus.MustRegister(challengeCount)

	// Finally, we'll launch the HTTP server that Prometheus will use to
	// scrape our metrics.
	go func() {
		log.Infof("Prometheus metrics http endpoint being served on "+
			"%s", cfg.ListenAddr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Errorf("Prometheus exporter stopped: %v",
			http.ListenAndServe(cfg.ListenAddr, mux))
	}()

	return nil
}

// statusRecorder wraps a response writer to capture the status code written
// to it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status code before handing it to the wrapped
// writer.
func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrumentHandler wraps the given handler with the request metrics. If the
// exporter isn't enabled, the handler is returned unchanged.
func instrumentHandler(cfg *PrometheusConfig,
	next http.Handler) http.Handler {

	if !cfg.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		requestCount.WithLabelValues(
			r.Host, strconv.Itoa(recorder.status),
		).Inc()
		if recorder.status == http.StatusPaymentRequired {
			challengeCount.WithLabelValues(r.Host).Inc()
		}
	})
}
