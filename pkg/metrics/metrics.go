package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "sync_runs_total",
		Help:      "Mailbox sync runs by mode and outcome.",
	}, []string{"mode", "outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dealdesk",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a single mailbox sync.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	MessagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "messages_classified_total",
		Help:      "Classified messages by stage and category.",
	}, []string{"stage", "category"})

	DuplicateInserts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "duplicate_inserts_total",
		Help:      "Inserts rejected by the (user_id, message_id) constraint.",
	})

	RetentionPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "retention_pruned_total",
		Help:      "Classification rows deleted by the retention cap.",
	})

	MessageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "sync_message_failures_total",
		Help:      "Messages that failed to fetch, classify or persist during a sync.",
	})

	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "model_calls_total",
		Help:      "Model stage invocations by outcome.",
	}, []string{"outcome"})

	QuotaBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Name:      "quota_breaker_open",
		Help:      "1 while the model quota breaker is open.",
	})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Name:      "jobs_total",
		Help:      "Background jobs by type and outcome.",
	}, []string{"type", "outcome"})
)

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
