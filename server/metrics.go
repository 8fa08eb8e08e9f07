package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orphan reasons recorded by Metrics.OrphanedBlobs
const (
	orphanOnCreate = "create"
	orphanOnDelete = "delete"
)

// Metrics holds the Prometheus collectors of the objects API
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	objectsCreated  prometheus.Counter
	objectsDeleted  prometheus.Counter
	orphanedBlobs   *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objects_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "objects_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		objectsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "objects_created_total",
			Help: "Number of objects created",
		}),
		objectsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "objects_deleted_total",
			Help: "Number of objects deleted",
		}),
		orphanedBlobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objects_orphaned_blobs_total",
				Help: "Blobs left in storage without a referencing record",
			},
			[]string{"reason"},
		),
	}
}

// Middleware records request counts and durations per route
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
