// Package metrics exposes quotebot's Prometheus counters. Every recording
// method is safe to call on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quotebot"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	observed       *prometheus.CounterVec
	reactions      *prometheus.CounterVec
	edits          *prometheus.CounterVec
	selections     *prometheus.CounterVec
	distance       prometheus.Histogram
	replies        *prometheus.CounterVec
	consentChanges *prometheus.CounterVec
	removals       *prometheus.CounterVec
	repairs        *prometheus.CounterVec
	embedFailures  prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		observed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_observed_total",
			Help:      "Observed messages by learn outcome.",
		}, []string{"outcome"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_observed_total",
			Help:      "Observed reactions by learn outcome.",
		}, []string{"outcome"}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_observed_total",
			Help:      "Observed message edits by content outcome.",
		}, []string{"outcome"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Quote selections by result.",
		}, []string{"result"}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_distance",
			Help:      "Distance of the selected quote.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply timing outcomes.",
		}, []string{"state"}),
		consentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_changes_total",
			Help:      "Consent changes by new level.",
		}, []string{"level"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_removals_total",
			Help:      "Index vector removals by result.",
		}, []string{"result"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Store and index repairs by kind and action.",
		}, []string{"kind", "action"}),
		embedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_failures_total",
			Help:      "Failed embedding calls.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.observed, m.reactions, m.edits, m.selections, m.distance, m.replies,
		m.consentChanges, m.removals, m.repairs, m.embedFailures,
	)
	return m
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Observed counts an observed message. outcome is "learned" or a skip reason.
func (m *Metrics) Observed(outcome string) {
	if m == nil {
		return
	}
	m.observed.WithLabelValues(outcome).Inc()
}

// Reaction counts an observed reaction. outcome is "learned" or a skip reason.
func (m *Metrics) Reaction(outcome string) {
	if m == nil {
		return
	}
	m.reactions.WithLabelValues(outcome).Inc()
}

// Edit counts an observed edit. outcome is "learned" when the new text was
// kept or the content reason it was dropped for.
func (m *Metrics) Edit(outcome string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(outcome).Inc()
}

// Selection records one selection and, when a quote was found, its distance.
func (m *Metrics) Selection(found bool, distance float64) {
	if m == nil {
		return
	}
	if !found {
		m.selections.WithLabelValues("none").Inc()
		return
	}
	m.selections.WithLabelValues("quote").Inc()
	m.distance.Observe(distance)
}

// Reply counts a reply timing outcome.
func (m *Metrics) Reply(state string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(state).Inc()
}

// ConsentChange counts a consent change.
func (m *Metrics) ConsentChange(level string) {
	if m == nil {
		return
	}
	m.consentChanges.WithLabelValues(level).Inc()
}

// Removal counts an index removal attempt. result is "ok" or "deferred".
func (m *Metrics) Removal(result string) {
	if m == nil {
		return
	}
	m.removals.WithLabelValues(result).Inc()
}

// Repair counts a repair flagged or resolved.
func (m *Metrics) Repair(kind, action string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(kind, action).Inc()
}

// EmbedFailure counts a failed embedding call.
func (m *Metrics) EmbedFailure() {
	if m == nil {
		return
	}
	m.embedFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
