package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Upload(OutcomeDone)
	m.Upload(OutcomeDone)
	m.Upload(OutcomeFailed)
	m.TransformFailed("video")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues(OutcomeDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transformFailures.WithLabelValues("video")))
}

func TestMetrics_Histograms(t *testing.T) {
	m := New()

	m.Reduction("pdf", 42)
	m.Stage("upload", time.Now().Add(-time.Second))

	assert.Equal(t, 1, testutil.CollectAndCount(m.reduction))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Upload(OutcomeDone)
		m.TransformFailed("pdf")
		m.Reduction("pdf", 10)
		m.Stage("upload", time.Now())
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Upload(OutcomeUnauthorized)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `media_ingest_uploads_total{outcome="unauthorized"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
