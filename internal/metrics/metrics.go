// Package metrics exposes the bot's Prometheus counters and an optional
// HTTP listener serving /metrics and /healthz.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/cornerbot/internal/connwatch"
)

const namespace = "cornerbot"

// requestBuckets covers a cached stats hit (well under a second) up to
// a browser search plus render (~15s) and slow tails beyond.
var requestBuckets = []float64{0.5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120}

// Metrics owns a private registry and the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	updates            prometheus.Counter
	requests           *prometheus.CounterVec
	collaboratorErrors *prometheus.CounterVec
	pollErrors         prometheus.Counter
	requestDuration    prometheus.Histogram
	collaboratorUp     *prometheus.GaugeVec

	health *connwatch.Watcher
}

// New creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		updates: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Chat updates received, before filtering.",
		}),
		requests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled messages by outcome.",
		}, []string{"outcome"}),
		collaboratorErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Failures of external collaborators by name.",
		}, []string{"collaborator"}),
		pollErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed chat polls.",
		}),
		requestDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from message receipt to reply text.",
			Buckets:   requestBuckets,
		}),
		collaboratorUp: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collaborator_up",
			Help:      "Whether the last check of a collaborator succeeded.",
		}, []string{"collaborator"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Update counts one received chat update.
func (m *Metrics) Update() {
	m.updates.Inc()
}

// Request records one handled message.
func (m *Metrics) Request(outcome string, d time.Duration) {
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(d.Seconds())
}

// CollaboratorError counts a failure of the named collaborator. The
// error itself is logged by the caller.
func (m *Metrics) CollaboratorError(collaborator string, _ error) {
	m.collaboratorErrors.WithLabelValues(collaborator).Inc()
}

// PollError counts a failed poll.
func (m *Metrics) PollError(error) {
	m.pollErrors.Inc()
}

// CollaboratorUp sets the reachability gauge. Its signature matches
// [connwatch.ChangeFunc].
func (m *Metrics) CollaboratorUp(collaborator string, up bool, _ error) {
	v := 0.0
	if up {
		v = 1
	}
	m.collaboratorUp.WithLabelValues(collaborator).Set(v)
}

// SetHealth makes /healthz report w's services. Call before [Serve].
func (m *Metrics) SetHealth(w *connwatch.Watcher) {
	m.health = w
}

type healthBody struct {
	Status   string             `json:"status"`
	Services []connwatch.Status `json:"services,omitempty"`
}

// Handler returns the mux served by [Serve]. /healthz answers 200 while
// the process runs; a collaborator outage shows as "degraded" in the
// body rather than as a failing status code.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := healthBody{Status: "ok"}
		if m.health != nil {
			body.Services = m.health.Status()
			if !m.health.Healthy() {
				body.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	return mux
}

// Serve listens on addr until ctx is cancelled. The listener is bound
// before Serve returns its first error, so a bad address fails fast.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
