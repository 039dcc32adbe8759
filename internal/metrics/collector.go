package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats exposes the async transcription queue at scrape time.
type QueueStats interface {
	Pending() int
	Running() int
}

// SubscriberCounter reports live SSE subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats
	subs  SubscriberCounter

	queuePending   *prometheus.Desc
	queueRunning   *prometheus.Desc
	sseSubscribers *prometheus.Desc
	dbTotalConns   *prometheus.Desc
	dbIdleConns    *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; its gauges then report 0.
func NewCollector(pool *pgxpool.Pool, queue QueueStats, subs SubscriberCounter) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		subs:  subs,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending_jobs"),
			"Transcription jobs waiting for a worker.",
			nil, nil,
		),
		queueRunning: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "running_jobs"),
			"Transcription jobs currently running.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueRunning
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, running, subs float64
	if c.queue != nil {
		pending = float64(c.queue.Pending())
		running = float64(c.queue.Running())
	}
	if c.subs != nil {
		subs = float64(c.subs.SubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.queueRunning, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, subs)

	var total, idle float64
	if c.pool != nil {
		stat := c.pool.Stat()
		total = float64(stat.TotalConns())
		idle = float64(stat.IdleConns())
	}
	ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, total)
	ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, idle)
}
