package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM 生成器调用延迟（毫秒）
	GeneratorCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generator_call_latency_ms",
			Help:    "LLM generator call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	// 计划更新结果计数
	PlanUpdateCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_update_count",
			Help: "Total number of plan update attempts by outcome",
		},
		[]string{"outcome"}, // success, invalid_patch, timeout, conflict, not_found, generator_error, canceled, error
	)

	// 推荐请求计数
	RecommendationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_count",
			Help: "Total number of recommendation requests by outcome",
		},
		[]string{"mode", "outcome"}, // mode: plain, rag_recommend, rag_review
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Outbox 事件发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox events published to MQ",
		},
		[]string{"routing_key", "status"},
	)
)

// RecordGeneratorLatency 记录生成器调用延迟
func RecordGeneratorLatency(operation, status string, duration time.Duration) {
	GeneratorCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// IncrementPlanUpdate 增加计划更新计数
func IncrementPlanUpdate(outcome string) {
	PlanUpdateCount.WithLabelValues(outcome).Inc()
}

// IncrementRecommendation 增加推荐计数
func IncrementRecommendation(mode, outcome string) {
	RecommendationCount.WithLabelValues(mode, outcome).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	DBQueryDuration.WithLabelValues("slow", "").Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}
