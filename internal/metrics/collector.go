// Package metrics exposes registry and limiter state as Prometheus metrics.
//
// Collectors read a fresh snapshot on every scrape, so the exported values
// reflect writes made by any process sharing the store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/registry"
)

// Namespace prefixes every metric name.
const Namespace = "taskgraph"

// RegistrySource is satisfied by *registry.Registry.
type RegistrySource interface {
	Metrics() (registry.Metrics, error)
}

// RegistryCollector reports task counts from a registry snapshot.
type RegistryCollector struct {
	src RegistrySource

	up           *prometheus.Desc
	tasks        *prometheus.Desc
	ready        *prometheus.Desc
	groups       *prometheus.Desc
	auditEntries *prometheus.Desc
	oldestQueued *prometheus.Desc
}

// NewRegistryCollector creates a collector over src.
func NewRegistryCollector(src RegistrySource) *RegistryCollector {
	return &RegistryCollector{
		src: src,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "store", "up"),
			"Whether the store document could be read on the last scrape.",
			nil, nil,
		),
		tasks: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "tasks"),
			"Tasks in the store, labelled by state.",
			[]string{"state"}, nil,
		),
		ready: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "ready_tasks"),
			"Queued tasks whose dependencies are all completed.",
			nil, nil,
		),
		groups: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "groups"),
			"Task groups in the store.",
			nil, nil,
		),
		auditEntries: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "audit_entries"),
			"Entries in the audit trail.",
			nil, nil,
		),
		oldestQueued: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "oldest_queued_age_seconds"),
			"Age of the oldest queued task.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.tasks
	ch <- c.ready
	ch <- c.groups
	ch <- c.auditEntries
	ch <- c.oldestQueued
}

// Collect implements prometheus.Collector.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	m, err := c.src.Metrics()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	for state, n := range m.ByState {
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(n), string(state))
	}
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, float64(m.Ready))
	ch <- prometheus.MustNewConstMetric(c.groups, prometheus.GaugeValue, float64(m.Groups))
	ch <- prometheus.MustNewConstMetric(c.auditEntries, prometheus.GaugeValue, float64(m.AuditEntries))
	ch <- prometheus.MustNewConstMetric(c.oldestQueued, prometheus.GaugeValue, m.OldestQueuedAge.Seconds())
}

// LimiterSource is satisfied by *limiter.Set.
type LimiterSource interface {
	Stats() []limiter.Stats
}

// LimiterCollector reports the statistics of every named limiter.
type LimiterCollector struct {
	src LimiterSource

	limit         *prometheus.Desc
	running       *prometheus.Desc
	queued        *prometheus.Desc
	submitted     *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	timeouts      *prometheus.Desc
	queueTimeouts *prometheus.Desc
	drained       *prometheus.Desc
	canceled      *prometheus.Desc
	avgQueueWait  *prometheus.Desc
	avgRunTime    *prometheus.Desc
}

func limiterDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "limiter", name), help, []string{"limiter"}, nil)
}

// NewLimiterCollector creates a collector over src.
func NewLimiterCollector(src LimiterSource) *LimiterCollector {
	return &LimiterCollector{
		src:           src,
		limit:         limiterDesc("max_concurrent", "Concurrency ceiling (0 = unlimited)."),
		running:       limiterDesc("running", "Operations currently running."),
		queued:        limiterDesc("queued", "Operations waiting for a slot."),
		submitted:     limiterDesc("submitted_total", "Operations submitted."),
		completed:     limiterDesc("completed_total", "Operations that returned without error."),
		failed:        limiterDesc("failed_total", "Operations that returned an error."),
		timeouts:      limiterDesc("operation_timeouts_total", "Operations rejected by the operation timeout."),
		queueTimeouts: limiterDesc("queue_timeouts_total", "Operations rejected by the queue timeout."),
		drained:       limiterDesc("drained_total", "Queued operations rejected by drain or close."),
		canceled:      limiterDesc("canceled_total", "Operations abandoned by their caller."),
		avgQueueWait:  limiterDesc("avg_queue_wait_seconds", "Average time operations waited for a slot."),
		avgRunTime:    limiterDesc("avg_run_seconds", "Average run time of settled operations."),
	}
}

// Describe implements prometheus.Collector.
func (c *LimiterCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.limit, c.running, c.queued, c.submitted, c.completed, c.failed,
		c.timeouts, c.queueTimeouts, c.drained, c.canceled, c.avgQueueWait, c.avgRunTime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *LimiterCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Stats() {
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Name)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.Name)
		}
		gauge(c.limit, float64(s.Limit))
		gauge(c.running, float64(s.Running))
		gauge(c.queued, float64(s.Queued))
		counter(c.submitted, s.Submitted)
		counter(c.completed, s.Completed)
		counter(c.failed, s.Failed)
		counter(c.timeouts, s.Timeouts)
		counter(c.queueTimeouts, s.QueueTimeouts)
		counter(c.drained, s.Drained)
		counter(c.canceled, s.Canceled)
		gauge(c.avgQueueWait, s.AvgQueueWait.Seconds())
		gauge(c.avgRunTime, s.AvgRunTime.Seconds())
	}
}
