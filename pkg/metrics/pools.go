package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ekaya-inc/minidb/pkg/pool"
)

// StatsSource reports the current occupancy of every connection pool.
// *database.Manager satisfies it.
type StatsSource interface {
	PoolStats() []pool.Stats
}

// PoolCollector reads pool occupancy at scrape time.
type PoolCollector struct {
	source StatsSource

	size     *prometheus.Desc
	idle     *prometheus.Desc
	borrowed *prometheus.Desc
	waiting  *prometheus.Desc
	created  *prometheus.Desc
	reused   *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector builds a collector for source. Register it on a registry
// with MustRegister.
func NewPoolCollector(source StatsSource, namespace string) *PoolCollector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &PoolCollector{
		source:   source,
		size:     desc("size", "Maximum number of connections in the pool"),
		idle:     desc("idle", "Connections waiting in the pool"),
		borrowed: desc("borrowed", "Connections held by a scope"),
		waiting:  desc("waiting", "Callers blocked in Acquire"),
		created:  desc("created_total", "Connections built by the pool factory"),
		reused:   desc("reused_total", "Acquires served from an idle connection"),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.idle
	ch <- c.borrowed
	ch <- c.waiting
	ch <- c.created
	ch <- c.reused
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.PoolStats() {
		if s.Closed {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), s.Name)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), s.Name)
		ch <- prometheus.MustNewConstMetric(c.borrowed, prometheus.GaugeValue, float64(s.Borrowed), s.Name)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting), s.Name)
		ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created), s.Name)
		ch <- prometheus.MustNewConstMetric(c.reused, prometheus.CounterValue, float64(s.Reused), s.Name)
	}
}
