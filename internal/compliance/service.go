// Package compliance implements the zero-trust analyzer: RBAC, secret, and
// policy scans, incident war-room synthesis, and the aggregate risk score.
package compliance

import (
	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/metrics"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Service computes compliance and incident views for one or many
// connections. It holds no per-connection state.
type Service struct {
	store   *storage.Store
	cluster *cluster.Service
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewService creates a compliance analyzer
func NewService(store *storage.Store, clusterSvc *cluster.Service, h *hub.Hub, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		cluster: clusterSvc,
		hub:     h,
		metrics: m,
		logger:  logging.GetLogger("compliance"),
	}
}

// attempt runs one sub-scan and degrades any failure to the zero value. A
// single unreachable sub-resource never blocks the rest of the report;
// every degrade path logs and counts identically.
func attempt[T any](s *Service, label string, fn func() (T, error)) T {
	out, err := fn()
	if err != nil {
		s.metrics.ObserveDegradedRead(label)
		s.logger.Warn("%s scan degraded to empty: %v", label, err)
		var zero T
		return zero
	}
	return out
}
