// Package optimizer implements the efficiency analyzer: capacity snapshots,
// utilization and waste, cost estimation against the node cost catalog, and
// the bounded auto-remediation executor.
package optimizer

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/metrics"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const pricingCacheSize = 256

// Service analyzes cluster efficiency for one or many connections. All
// mutable caches live on the instance, not in package state, so tenants'
// computations never cross-contaminate and tests can construct isolated
// instances.
type Service struct {
	store   *storage.Store
	cluster *cluster.Service
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *logging.Logger

	// pricing caches catalog lookups; keys carry no tenant data, so the
	// cache is safely shared across concurrent report computations.
	pricing      *lru.Cache[string, storage.NodePricingEntry]
	seedDefaults sync.Once
}

// NewService creates an efficiency analyzer
func NewService(store *storage.Store, clusterSvc *cluster.Service, h *hub.Hub, m *metrics.Metrics) *Service {
	cache, _ := lru.New[string, storage.NodePricingEntry](pricingCacheSize)
	return &Service{
		store:   store,
		cluster: clusterSvc,
		hub:     h,
		metrics: m,
		logger:  logging.GetLogger("optimizer"),
		pricing: cache,
	}
}

// EnsureDefaultCatalog seeds the wildcard pricing tiers once per instance.
// Existing rows are left untouched on subsequent calls.
func (s *Service) EnsureDefaultCatalog(ctx context.Context) error {
	var err error
	s.seedDefaults.Do(func() {
		existing, lookupErr := s.store.PricingFor("*", "*")
		if lookupErr != nil {
			err = lookupErr
			return
		}
		if existing != nil {
			return
		}
		err = s.store.UpsertPricing([]storage.NodePricingEntry{{
			Provider:     "*",
			InstanceType: "*",
			CPUHourly:    defaultCPUHourly,
			MemoryHourly: defaultMemoryHourly,
		}})
	})
	return err
}
