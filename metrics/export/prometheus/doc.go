// Package prometheus exposes accountcore's in-process counters as a
// Prometheus collector.
//
// [NewCollector] reads [accountcore.Engine.MetricsSnapshot] on every scrape.
// Counter names are prefixed accountcore_ and end in _total; the single
// histogram is accountcore_authenticate_latency_seconds.
//
// The collector is never registered globally; callers pass their own
// registerer.
package prometheus
