// Package promexport exposes the engine's counters as a Prometheus
// collector.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mlenahan/authcore"
)

// Collector adapts engine metric snapshots to the Prometheus scrape model.
// Counters are read fresh on every Collect call.
type Collector struct {
	engine *authcore.Engine
	descs  map[authcore.MetricID]*prometheus.Desc
	drops  *prometheus.Desc
}

// NewCollector builds a collector for the engine. Register it with a
// prometheus.Registerer to expose the metrics.
func NewCollector(engine *authcore.Engine, namespace string) *Collector {
	if namespace == "" {
		namespace = "authcore"
	}

	descs := make(map[authcore.MetricID]*prometheus.Desc)
	for _, id := range (authcore.MetricsSnapshot{}).IDs() {
		descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.Name()+"_total"),
			"Total number of "+id.Name()+" events.",
			nil, nil,
		)
	}

	return &Collector{
		engine: engine,
		descs:  descs,
		drops: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Total number of audit events dropped under backpressure.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
	ch <- c.drops
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Metrics()
	for id, desc := range c.descs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snap.Counters[id]))
	}
	ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(c.engine.AuditDropped()))
}
