// Package metrics instruments Pool and Connection activity with
// Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics exposed by a Pool/Connection
// pair. Unlike a multi-tenant proxy, this library has exactly one pool
// identity per Collector, so labels carry only the free-form "pool" name a
// caller supplies (useful when an application runs several pools against
// different databases and wants them distinguishable in one registry).
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	acquireDuration    *prometheus.HistogramVec
	queryDuration      *prometheus.HistogramVec
	poolExhausted      *prometheus.CounterVec
	noticesTotal       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	reconnectsTotal    *prometheus.CounterVec
}

// New creates and registers the pool/connection metrics on a fresh
// registry. Safe to call multiple times; each call creates an
// independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgfe_connections_active", Help: "Number of borrowed connections"},
			[]string{"pool"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgfe_connections_idle", Help: "Number of idle connections"},
			[]string{"pool"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgfe_connections_waiting", Help: "Number of goroutines waiting on Pool.BorrowWait"},
			[]string{"pool"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgfe_acquire_duration_seconds",
				Help:    "Time spent waiting in Pool.BorrowWait",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"pool"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgfe_query_duration_seconds",
				Help:    "Duration of Connection.Perform/Execute calls",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"pool"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgfe_pool_exhausted_total", Help: "Times Borrow found every slot in use"},
			[]string{"pool"},
		),
		noticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgfe_notices_total", Help: "NoticeResponse frames received"},
			[]string{"pool"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgfe_notifications_total", Help: "NotificationResponse frames received"},
			[]string{"pool"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgfe_reconnects_total", Help: "Successful Connection.Connect calls"},
			[]string{"pool"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsWaiting,
		c.acquireDuration,
		c.queryDuration,
		c.poolExhausted,
		c.noticesTotal,
		c.notificationsTotal,
		c.reconnectsTotal,
	)
	return c
}

func (c *Collector) SetPoolStats(pool string, active, idle, waiting int) {
	c.connectionsActive.WithLabelValues(pool).Set(float64(active))
	c.connectionsIdle.WithLabelValues(pool).Set(float64(idle))
	c.connectionsWaiting.WithLabelValues(pool).Set(float64(waiting))
}

func (c *Collector) AcquireDuration(pool string, d time.Duration) {
	c.acquireDuration.WithLabelValues(pool).Observe(d.Seconds())
}

func (c *Collector) QueryDuration(pool string, d time.Duration) {
	c.queryDuration.WithLabelValues(pool).Observe(d.Seconds())
}

func (c *Collector) PoolExhausted(pool string) {
	c.poolExhausted.WithLabelValues(pool).Inc()
}

func (c *Collector) NoticeReceived(pool string) {
	c.noticesTotal.WithLabelValues(pool).Inc()
}

func (c *Collector) NotificationReceived(pool string) {
	c.notificationsTotal.WithLabelValues(pool).Inc()
}

func (c *Collector) Reconnected(pool string) {
	c.reconnectsTotal.WithLabelValues(pool).Inc()
}
