// Package metrics provides Prometheus metrics for the petal service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionExecutionsTotal tracks action executions by outcome
	ActionExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "action",
			Name:      "executions_total",
			Help:      "Total number of action executions by outcome",
		},
		[]string{"destination", "action", "mode", "status"},
	)

	// ActionExecutionDuration tracks perform and performBatch latency
	ActionExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petal",
			Subsystem: "action",
			Name:      "execution_duration_seconds",
			Help:      "Duration of action executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"destination", "action", "mode"},
	)

	// BatchItemsTotal tracks batch items by multistatus outcome
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "action",
			Name:      "batch_items_total",
			Help:      "Total number of batch items by outcome",
		},
		[]string{"destination", "action", "status"},
	)

	// SubscriptionOutcomesTotal tracks subscription matching outcomes
	SubscriptionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "subscription",
			Name:      "outcomes_total",
			Help:      "Total number of subscription evaluations by outcome",
		},
		[]string{"destination", "outcome"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petal",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// TokenRefreshesTotal tracks OAuth token refreshes
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth token refresh operations",
		},
		[]string{"destination", "status"},
	)

	// KafkaMessagesConsumed tracks envelopes read from Kafka
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// RedisOperationDuration tracks Redis operation duration
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petal",
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"operation"},
	)

	// APIRequestsTotal tracks inbound API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petal",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of inbound API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petal",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordActionExecution records one perform or performBatch call
func RecordActionExecution(destination, action, mode, status string, durationSeconds float64) {
	ActionExecutionsTotal.WithLabelValues(destination, action, mode, status).Inc()
	ActionExecutionDuration.WithLabelValues(destination, action, mode).Observe(durationSeconds)
}

// RecordBatchItems records count batch items with the given outcome
func RecordBatchItems(destination, action, status string, count int) {
	if count <= 0 {
		return
	}
	BatchItemsTotal.WithLabelValues(destination, action, status).Add(float64(count))
}

func RecordSubscriptionOutcome(destination, outcome string) {
	SubscriptionOutcomesTotal.WithLabelValues(destination, outcome).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

func RecordTokenRefresh(destination, status string) {
	TokenRefreshesTotal.WithLabelValues(destination, status).Inc()
}

func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

func RecordRedisOperation(operation string, durationSeconds float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordAPIRequest records an inbound API request metric
func RecordAPIRequest(method, route, statusCode string, durationSeconds float64) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
