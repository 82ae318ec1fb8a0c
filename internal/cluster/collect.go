package cluster

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// TelemetrySnapshot reports one collection pass
type TelemetrySnapshot struct {
	ConnectionID string `json:"connectionId"`
	EventCount   int    `json:"eventCount"`
	LogCount     int    `json:"logCount"`
}

// CollectTelemetry pulls the connection's current events and logs, persists
// them (events idempotently, logs append-only), and republishes the batch to
// hub subscribers. Both fetches are degraded reads, so an unreachable
// cluster yields an empty snapshot rather than an error.
func (s *Service) CollectTelemetry(ctx context.Context, conn *storage.ClusterConnection) (TelemetrySnapshot, error) {
	var (
		events []storage.ClusterEvent
		logs   []storage.LogEntry
	)
	// events and logs are independent reads; fetch them concurrently
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events = s.Events(gctx, conn)
		return nil
	})
	g.Go(func() error {
		logs = s.Logs(gctx, conn)
		return nil
	})
	_ = g.Wait()

	if err := s.store.UpsertEvents(conn.ID, events); err != nil {
		return TelemetrySnapshot{}, err
	}
	if err := s.store.InsertLogs(conn.ID, logs); err != nil {
		return TelemetrySnapshot{}, err
	}

	snapshot := TelemetrySnapshot{
		ConnectionID: conn.ID,
		EventCount:   len(events),
		LogCount:     len(logs),
	}
	if s.hub != nil {
		if snapshot.EventCount > 0 || snapshot.LogCount > 0 {
			s.hub.Publish(hub.TopicTelemetry, snapshot)
		}
		if snapshot.EventCount > 0 {
			s.hub.Publish(hub.TopicAudit, snapshot)
		}
	}

	s.logger.InfoWithFields("telemetry collected",
		logging.Field("connection_id", conn.ID),
		logging.Field("events", snapshot.EventCount),
		logging.Field("logs", snapshot.LogCount),
	)
	return snapshot, nil
}
