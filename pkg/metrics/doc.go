/*
Package metrics provides Prometheus metrics collection and exposition for
libra.

Gauges track pod/container counts by phase/state; histograms track
create/start/stop/reconcile/cgroup/network latency; counters track restart,
failure, and reconnect totals. Collector samples pod/container phase gauges
on a 15s tick from any pkg/metrics.PhaseLister (pkg/pod.Manager,
pkg/container.Manager). Handler() exposes everything via promhttp for
scraping.
*/
package metrics
