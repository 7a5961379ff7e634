package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nautical-db/tablet/pkg/types"
)

// registryTotal is the periodic re-sync gauge this collector owns.
// TabletsTotal (in metrics.go) is updated inline by pkg/registry on every
// publish/delete; this gauge exists purely to catch drift between that
// running total and the registry's actual key count, the same
// belt-and-suspenders role the teacher's Collector played for node/
// service/task counts polled from Raft FSM state.
var registryTotal = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "tablet_registry_keys_total",
	Help: "Tablet keys currently held by the registry, resynced periodically",
})

func init() {
	prometheus.MustRegister(registryTotal)
}

// KeyLister is implemented by anything a Collector can poll for its
// current tablet key count. *tabletservice.Service satisfies this via
// its Keys method; not imported directly to keep pkg/metrics below
// pkg/tabletservice in the dependency graph.
type KeyLister interface {
	Keys() []types.TabletKey
}

// Collector periodically resyncs gauges that inline instrumentation
// alone can drift from, the way the teacher's manager-polling Collector
// kept node/service/task gauges in sync with Raft FSM state.
type Collector struct {
	lister KeyLister
	stopCh chan struct{}
}

// NewCollector builds a collector over lister. lister is typically a
// *tabletservice.Service.
func NewCollector(lister KeyLister) *Collector {
	return &Collector{lister: lister, stopCh: make(chan struct{})}
}

// Start begins the periodic collection loop.
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

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.lister == nil {
		return
	}
	registryTotal.Set(float64(len(c.lister.Keys())))
}
