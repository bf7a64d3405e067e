package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	execHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workcache",
			Subsystem: "exec",
			Name:      "hits_total",
			Help:      "Number of exec calls answered from the cache.",
		}, []string{"fn"},
	)
	execMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workcache",
			Subsystem: "exec",
			Name:      "misses_total",
			Help:      "Number of exec calls that ran the body.",
		}, []string{"fn"},
	)
	execFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workcache",
			Subsystem: "exec",
			Name:      "failures_total",
			Help:      "Number of exec bodies that returned an error or panicked.",
		}, []string{"fn"},
	)
	execDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workcache",
			Subsystem: "exec",
			Name:      "duration_seconds",
			Help:      "Wall time of exec calls, including cache lookups.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"fn", "outcome"},
	)
	dbFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workcache",
			Subsystem: "database",
			Name:      "flushes_total",
			Help:      "Number of explicit database flushes.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{execHits, execMisses, execFailures, execDuration, dbFlushes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an HTTP handler serving the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncHit(fn string)     { execHits.WithLabelValues(fn).Inc() }
func IncMiss(fn string)    { execMisses.WithLabelValues(fn).Inc() }
func IncFailure(fn string) { execFailures.WithLabelValues(fn).Inc() }
func IncFlush()            { dbFlushes.Inc() }

// ObserveExec records the wall time of one exec call.
func ObserveExec(fn, outcome string, d time.Duration) {
	execDuration.WithLabelValues(fn, outcome).Observe(d.Seconds())
}
