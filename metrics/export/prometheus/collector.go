package prometheus

import (
	"errors"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/MrEthical07/accountcore"
)

// ErrNilSource is returned when no metrics source is given.
var ErrNilSource = errors.New("prometheus: nil metrics source")

// Source is satisfied by *accountcore.Engine.
type Source interface {
	MetricsSnapshot() accountcore.MetricsSnapshot
	AuditDropped() uint64
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	source   Source
	counters []*prom.Desc
	latency  *prom.Desc
	dropped  *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector returns a collector reading from source.
func NewCollector(source Source) (*Collector, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	c := &Collector{
		source:   source,
		counters: make([]*prom.Desc, len(counterDefs)),
		latency:  prom.NewDesc(latencyName, latencyHelp, nil, nil),
		dropped:  prom.NewDesc("accountcore_audit_dropped_total", "Audit events dropped by sink backpressure.", nil, nil),
	}
	for i, def := range counterDefs {
		c.counters[i] = prom.NewDesc(def.name, def.help, nil, nil)
	}
	return c, nil
}

// Register creates a collector for source and registers it on reg.
func Register(reg prom.Registerer, source Source) (*Collector, error) {
	c, err := NewCollector(source)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	ch <- c.latency
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	snap := c.source.MetricsSnapshot()
	for i, def := range counterDefs {
		ch <- prom.MustNewConstMetric(c.counters[i], prom.CounterValue, float64(snap.Counters[def.id]))
	}
	// histograms are only present when latency tracking is on
	if raw, ok := snap.Histograms[accountcore.MetricAuthenticateLatency]; ok {
		buckets, count := cumulativeBuckets(raw)
		// snapshots keep no sum
		ch <- prom.MustNewConstHistogram(c.latency, count, 0, buckets)
	}
	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}
