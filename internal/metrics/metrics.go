package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cleanbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		},
		[]string{"endpoint", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// BookingOps counts orchestrator operations by op and result.
	BookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_operations_total",
			Help:      "Booking operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// NotificationsTotal counts notification attempts by channel, kind and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel, kind and result.",
		},
		[]string{"channel", "kind", "result"},
	)

	// SyncTasks counts sheets sync task outcomes.
	SyncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_tasks_total",
			Help:      "Spreadsheet sync tasks by type and result.",
		},
		[]string{"task", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, BookingOps, NotificationsTotal, SyncTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, method string, code int) {
	httpRequests.WithLabelValues(endpoint, method, strconv.Itoa(code)).Inc()
}

func ObserveHTTP(endpoint string, d time.Duration) {
	httpDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncBookingOp records one operation; err == nil counts as "ok".
func IncBookingOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BookingOps.WithLabelValues(op, result).Inc()
}
