package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExecution(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordExecution("python", "container", "success", 120*time.Millisecond)
	m.RecordExecution("python", "container", "timeout", 5*time.Second)
	m.RecordExecution("python", "container", "success", 80*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("python", "container", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("python", "container", "timeout")))
}

func TestTimerTracksInFlight(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	timer := NewTimer(m, "javascript", "script")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsInFlight))

	timer.Stop("success")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ExecutionsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("javascript", "script", "success")))
}

func TestRecordDeliverySkipsZeroes(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordDelivery("broadcast", 3, 0)
	m.RecordDelivery("broadcast", 0, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("broadcast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Drops.WithLabelValues("broadcast")))
}

func TestEnvironmentGauge(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.EnvironmentProvisioned("process")
	m.EnvironmentProvisioned("process")
	m.EnvironmentReclaimed("process")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnvironmentsActive.WithLabelValues("process")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetricsWith(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/sessions/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, code := range []string{"ABC123", "XYZ789"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sessions/"+code, nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "404")))
}

func TestNewMetricsOwnsRegistry(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Registry())

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["codesync_uptime_seconds"])
	assert.True(t, names["go_goroutines"])
}
