package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuemby/libra/pkg/types"
)

// PhaseLister is implemented by pkg/pod.Manager and pkg/container.Manager:
// a cheap, lock-protected snapshot of current phases for gauge sampling.
type PhaseLister interface {
	Phases() map[string]types.Phase
}

// Collector periodically samples pod/container phase counts into
// PodsTotal/ContainersTotal.
type Collector struct {
	pods       PhaseLister
	containers PhaseLister
	stopCh     chan struct{}
}

// NewCollector creates a new metrics collector over a pod and container
// manager. Either may be nil if that manager isn't in use (e.g. a
// container-only daemon).
func NewCollector(pods, containers PhaseLister) *Collector {
	return &Collector{
		pods:       pods,
		containers: containers,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics every 15s.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	sample(c.pods, PodsTotal)
	sample(c.containers, ContainersTotal)
}

func sample(lister PhaseLister, gauge *prometheus.GaugeVec) {
	if lister == nil || gauge == nil {
		return
	}
	counts := make(map[types.Phase]int)
	for _, phase := range lister.Phases() {
		counts[phase]++
	}
	for phase, count := range counts {
		gauge.WithLabelValues(string(phase)).Set(float64(count))
	}
}
