package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFilesDoneTotalIncrements(t *testing.T) {
	FilesDoneTotal.Reset()
	FilesDoneTotal.WithLabelValues("host01").Inc()
	FilesDoneTotal.WithLabelValues("host01").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(FilesDoneTotal.WithLabelValues("host01")))
}

func TestActiveConnectionsGauge(t *testing.T) {
	ActiveConnections.Reset()
	ActiveConnections.WithLabelValues("host01").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveConnections.WithLabelValues("host01")))
}

func TestHandlerServesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "afd_files_done_total")
}
