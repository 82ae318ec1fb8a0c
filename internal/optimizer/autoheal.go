package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	autoActionRestart = "restart-deployment"
	autoHealDedup     = 30 * time.Minute
)

// autoHeal restarts high-severity under-replicated Deployments. Every
// attempt, successful or not, lands in the audit table; the dedup query
// against that same table keeps repeated analysis runs from restarting the
// same workload more than once per window.
func (s *Service) autoHeal(ctx context.Context, conn *storage.ClusterConnection, workloads []cluster.Workload) {
	for _, w := range workloads {
		if w.Severity != "high" || w.Kind != "Deployment" {
			continue
		}
		target := w.Namespace + "/" + w.Name

		recent, err := s.store.HasRecentAutoAction(conn.ID, autoActionRestart, target, autoHealDedup)
		if err != nil {
			s.logger.Warn("auto-heal dedup check failed for %s: %v", target, err)
			continue
		}
		if recent {
			s.logger.Debug("skipping auto-heal for %s, action within dedup window", target)
			continue
		}

		restartErr := s.cluster.RestartDeployment(ctx, conn, w.Namespace, w.Name)
		s.recordAutoHeal(conn, w, target, restartErr)
	}
}

func (s *Service) recordAutoHeal(conn *storage.ClusterConnection, w cluster.Workload, target string, restartErr error) {
	status := "success"
	payload := map[string]any{
		"reason":          "under-replicated",
		"desiredReplicas": w.DesiredReplicas,
		"readyReplicas":   w.ReadyReplicas,
	}
	if restartErr != nil {
		status = "failed"
		payload["error"] = restartErr.Error()
	}
	raw, _ := json.Marshal(payload)

	if _, err := s.store.RecordAutoAction(storage.OptimizerAutoAction{
		ConnectionID: conn.ID,
		Action:       autoActionRestart,
		Target:       target,
		Payload:      string(raw),
		Status:       status,
	}); err != nil {
		s.logger.ErrorWithErr("recording auto-heal action for %s", err, target)
	}

	s.metrics.ObserveRemediation(status)

	if restartErr != nil {
		s.logger.Warn("auto-heal restart of %s failed: %v", target, restartErr)
		return
	}
	s.logger.Info("auto-heal restarted deployment %s on connection %s", target, conn.ID)

	if s.hub != nil {
		s.hub.Publish(hub.TopicWorkflow, hub.WorkflowProgress{
			ID:         uuid.NewString(),
			Stage:      "complete",
			Status:     "success",
			Percentage: 100,
			Message:    fmt.Sprintf("Restarted deployment %s", target),
			Timestamp:  time.Now().UTC(),
		})
	}
}
