package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observed("learned")
		m.Reaction("learned")
		m.Edit("learned")
		m.Selection(true, 0.2)
		m.Reply("sent")
		m.ConsentChange("denied")
		m.Removal("ok")
		m.Repair("orphan_vector", "flagged")
		m.EmbedFailure()
		m.Gauge("x", "y", func() float64 { return 1 })
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Observed("learned")
	m.Observed("learned")
	m.Observed("no_anchor")
	m.Selection(false, 0)
	m.Selection(true, 0.25)
	m.Edit("command")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.observed.WithLabelValues("learned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observed.WithLabelValues("no_anchor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selections.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selections.WithLabelValues("quote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.edits.WithLabelValues("command")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Gauge("index_vectors", "Vectors in the index.", func() float64 { return 3 })
	m.Reply("suppressed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `quotebot_replies_total{state="suppressed"} 1`)
	assert.Contains(t, string(body), "quotebot_index_vectors 3")
}
