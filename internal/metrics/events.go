package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/taskgraph/internal/event"
)

// EventCounter counts events published on a bus by type. Unlike the other
// collectors it only sees events from this process.
type EventCounter struct {
	bus   *event.Bus
	subID string
	total *prometheus.CounterVec
}

// NewEventCounter subscribes to every event on bus.
func NewEventCounter(bus *event.Bus) *EventCounter {
	c := &EventCounter{
		bus: bus,
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published in this process, labelled by type.",
		}, []string{"type"}),
	}
	c.subID = bus.SubscribeAll(func(e event.Event) {
		c.total.WithLabelValues(e.EventType()).Inc()
	})
	return c
}

// Describe implements prometheus.Collector.
func (c *EventCounter) Describe(ch chan<- *prometheus.Desc) {
	c.total.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *EventCounter) Collect(ch chan<- prometheus.Metric) {
	c.total.Collect(ch)
}

// Close unsubscribes from the bus.
func (c *EventCounter) Close() {
	c.bus.Unsubscribe(c.subID)
}
