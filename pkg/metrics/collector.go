package metrics

import (
	"time"

	"github.com/grovehq/grove/pkg/storage"
)

// Collector periodically refreshes inventory gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectClusterMetrics()
	c.collectNodeMetrics()
	c.collectActionMetrics()
	c.collectCatalogMetrics()
}

func (c *Collector) collectClusterMetrics() {
	clusters, err := c.store.ListClusters(storage.ClusterFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, cluster := range clusters {
		counts[string(cluster.Status)]++
	}
	ClustersTotal.Reset()
	for status, count := range counts {
		ClustersTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes(storage.NodeFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, node := range nodes {
		counts[string(node.Status)]++
	}
	NodesTotal.Reset()
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectActionMetrics() {
	actions, err := c.store.ListActions(storage.ActionFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, action := range actions {
		counts[string(action.Status)]++
	}
	ActionsTotal.Reset()
	for status, count := range counts {
		ActionsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectCatalogMetrics() {
	if profiles, err := c.store.ListProfiles(); err == nil {
		ProfilesTotal.Set(float64(len(profiles)))
	}
	if policies, err := c.store.ListPolicies(); err == nil {
		PoliciesTotal.Set(float64(len(policies)))
	}
}
