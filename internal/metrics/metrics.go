package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_sessions_total",
		Help: "Import sessions that reached a terminal status",
	}, []string{"status"})

	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_records_total",
		Help: "Records processed by the batch importer",
	}, []string{"result"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "import_batch_duration_seconds",
		Help:    "Wall time of one batch commit including retries",
		Buckets: prometheus.DefBuckets,
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_batch_retries_total",
		Help: "Whole-batch retries after infrastructure failures",
	})

	ResolverCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_candidates_total",
		Help: "Mapping candidates produced per strategy",
	}, []string{"strategy"})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_events_dropped_total",
		Help: "Progress events dropped because a subscriber buffer was full",
	})
)

// Handler exposes the default registry for gin
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
