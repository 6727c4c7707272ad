package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsLoggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_events_logged_total",
			Help: "Total number of activity events assembled, by event name.",
		},
		[]string{"event"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_jobs_enqueued_total",
			Help: "Total number of delivery jobs handed to a queue.",
		},
		[]string{"connection", "queue"},
	)

	EnqueueFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_enqueue_failures_total",
			Help: "Total number of delivery jobs the queue refused.",
		},
		[]string{"connection", "reason"}, // e.g. queue_full, broker_unavailable, encode
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_delivery_attempts_total",
			Help: "Total number of HTTP POST attempts by response code class.",
		},
		[]string{"code"}, // 2xx, 4xx, 5xx, error
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activitylogger_attempt_latency_seconds",
			Help:    "Latency of individual delivery attempts.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"code"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_deliveries_total",
			Help: "Total number of delivery jobs by terminal result.",
		},
		[]string{"result"}, // delivered, failed_permanently, skipped
	)

	DeliveryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activitylogger_delivery_attempts",
			Help:    "Attempts used per delivery job.",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	BackoffSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activitylogger_backoff_seconds",
			Help:    "Backoff delays slept between attempts.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120, 300},
		},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activitylogger_dead_letters_total",
			Help: "Total number of permanently failed deliveries reported.",
		},
		[]string{"reason"},
	)

	LaneBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activitylogger_lane_backlog",
			Help: "Jobs waiting on a queue lane.",
		},
		[]string{"connection", "lane"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsLoggedTotal,
		JobsEnqueuedTotal,
		EnqueueFailuresTotal,
		AttemptsTotal,
		AttemptLatency,
		DeliveriesTotal,
		DeliveryAttempts,
		RetriesTotal,
		BackoffSeconds,
		DeadLettersTotal,
		LaneBacklog,
	)
}

func RecordEventLogged(event string) {
	EventsLoggedTotal.WithLabelValues(event).Inc()
}

func RecordEnqueue(connection, queue string) {
	JobsEnqueuedTotal.WithLabelValues(connection, queue).Inc()
}

func RecordEnqueueFailure(connection, reason string) {
	EnqueueFailuresTotal.WithLabelValues(connection, reason).Inc()
}

// RecordAttempt records one POST. status 0 means a transport error.
func RecordAttempt(status int, latency time.Duration) {
	code := CodeClass(status)
	AttemptsTotal.WithLabelValues(code).Inc()
	AttemptLatency.WithLabelValues(code).Observe(latency.Seconds())
}

func RecordDelivery(result string, attempts int) {
	DeliveriesTotal.WithLabelValues(result).Inc()
	if attempts > 0 {
		DeliveryAttempts.Observe(float64(attempts))
	}
}

func RecordRetry(reason string, delay time.Duration) {
	RetriesTotal.WithLabelValues(reason).Inc()
	BackoffSeconds.Observe(delay.Seconds())
}

func RecordDeadLetter(reason string) {
	DeadLettersTotal.WithLabelValues(reason).Inc()
}

func UpdateLaneBacklog(connection, lane string, depth float64) {
	LaneBacklog.WithLabelValues(connection, lane).Set(depth)
}

// CodeClass buckets an HTTP status into 2xx..5xx; 0 becomes "error".
func CodeClass(status int) string {
	if status <= 0 {
		return "error"
	}
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}
