package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded (/sessions/:id)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			int64(c.Writer.Size()),
		)
	}
}

// Timer measures one sandbox execution
type Timer struct {
	start    time.Time
	metrics  *Metrics
	language string
	backend  string
}

// NewTimer creates a new timer and marks an execution in flight
func NewTimer(metrics *Metrics, language, backend string) *Timer {
	metrics.ExecutionsInFlight.Inc()
	return &Timer{
		start:    time.Now(),
		metrics:  metrics,
		language: language,
		backend:  backend,
	}
}

// Stop records the duration and final status
func (t *Timer) Stop(status string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.ExecutionsInFlight.Dec()
	t.metrics.RecordExecution(t.language, t.backend, status, duration)
	return duration
}
