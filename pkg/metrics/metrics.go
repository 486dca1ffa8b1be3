package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "integrations"

type Metrics struct {
	Kafka   KafkaMetrics
	API     APIMetrics
	Repo    RepoMetrics
	Emitter EmitterMetrics
	Relay   RelayMetrics
	Go      GoMetrics
}

type KafkaMetrics struct {
	// Producer
	ProducerAttemptLatencySeconds *prometheus.HistogramVec
	ProducerOperationsTotal       *prometheus.CounterVec
	ProducerSuccessAttempts       *prometheus.HistogramVec

	// Consumer
	ConsumerMessagesTotal   *prometheus.CounterVec
	ConsumerProcessDuration *prometheus.HistogramVec
	ConsumerRebalancesTotal *prometheus.CounterVec
	ConsumerInFlight        *prometheus.GaugeVec
}

type APIMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec
}

type RepoMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
	InFlight        *prometheus.GaugeVec
}

type EmitterMetrics struct {
	EmitTotal *prometheus.CounterVec
}

type RelayMetrics struct {
	AttemptsTotal          *prometheus.CounterVec
	AttemptDurationSeconds *prometheus.HistogramVec
	ClaimedTotal           prometheus.Counter
	ReclaimedTotal         prometheus.Counter
	EventsByStatus         *prometheus.GaugeVec
}

type GoMetrics struct {
	InternalGoroutines *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Kafka: KafkaMetrics{
			ProducerAttemptLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "producer_attempt_latency_seconds",
				Help:      "Latency per single produce attempt.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic", "result"}), // ok|error

			ProducerOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "producer_operations_total",
				Help:      "Total produce operations (one call) by result.",
			}, []string{"topic", "result"}), // success|failed|permanent|canceled

			ProducerSuccessAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "producer_success_attempts",
				Help:      "Attempt number on which produce operation succeeded.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			}, []string{"topic"}),

			ConsumerMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "consumer_messages_total",
				Help:      "Total consumed Kafka messages by topic and result.",
			}, []string{"topic", "result"}), // accepted|duplicate|invalid|error

			ConsumerProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "consumer_process_duration_seconds",
				Help:      "Kafka message processing duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic"}),

			ConsumerRebalancesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "consumer_rebalances_total",
				Help:      "Consumer rebalance lifecycle events.",
			}, []string{"event"}),

			ConsumerInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "kafka",
				Name:      "consumer_inflight_messages",
				Help:      "Messages currently being processed.",
			}, []string{"topic"}),
		},

		API: APIMetrics{
			HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, path and status.",
			}, []string{"method", "path", "status"}),

			HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),

			RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-tenant rate limiter.",
			}, []string{"path"}),
		},
		Repo: RepoMetrics{
			RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "requests_total",
				Help:      "Total DB requests by operation, result and error kind.",
			}, []string{"op", "result", "error_kind"}),

			DurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "request_duration_seconds",
				Help:      "DB request duration in seconds.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"op", "result"}),

			InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "inflight",
				Help:      "Number of in-flight DB requests.",
			}, []string{"op"}),
		},
		Emitter: EmitterMetrics{
			EmitTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "emitter",
				Name:      "emit_total",
				Help:      "Emit calls by event type and result.",
			}, []string{"event_type", "result"}), // accepted|duplicate|invalid|error
		},
		Relay: RelayMetrics{
			AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "attempts_total",
				Help:      "Delivery attempts by event type and outcome.",
			}, []string{"event_type", "result"}), // delivered|failed|exhausted|conflict|claim_lost|store_error

			AttemptDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "attempt_duration_seconds",
				Help:      "Outbound webhook call latency.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}, []string{"event_type", "result"}),

			ClaimedTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "claimed_total",
				Help:      "Events moved to processing by relay passes.",
			}),

			ReclaimedTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "reclaimed_total",
				Help:      "Events whose processing lease expired.",
			}),

			EventsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "events",
				Help:      "Stored integration events by status.",
			}, []string{"status"}),
		},
		Go: GoMetrics{
			InternalGoroutines: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "go",
				Name:      "internal_goroutines",
				Help:      "Number of running internal goroutines by name.",
			}, []string{"name"}),
		},
	}
}
