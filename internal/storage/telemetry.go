package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// telemetryBatchSize keeps each multi-row insert well under sqlite's bind
// variable limit.
const telemetryBatchSize = 100

// UpsertEvents persists a batch of cluster events keyed by the event's own
// id. On conflict all columns are overwritten with the incoming values, so
// replaying the same batch twice is a no-op in effect.
func (s *Store) UpsertEvents(connectionID string, events []ClusterEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]clusterEventRow, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		row, err := eventToRow(connectionID, ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, telemetryBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert events: %w", err)
	}
	return nil
}

// InsertLogs appends log lines, one row per line, with server-assigned ids.
// There is no natural external id, so duplicates are tolerated and bounded
// by the read-side window rather than insertion-time dedup.
func (s *Store) InsertLogs(connectionID string, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]LogEntry, len(entries))
	for i, e := range entries {
		e.ID = 0
		e.ConnectionID = connectionID
		if e.LogTimestamp.IsZero() {
			e.LogTimestamp = now
		}
		rows[i] = e
	}
	if err := s.db.CreateInBatches(&rows, telemetryBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert log entries: %w", err)
	}
	return nil
}

// RecentEvents returns events within the trailing window, newest first.
// Every analyzer that needs event history goes through this call.
func (s *Store) RecentEvents(connectionID string, windowHours int) ([]ClusterEvent, error) {
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	var rows []clusterEventRow
	err := s.db.
		Where("connection_id = ? AND created_at >= ?", connectionID, cutoff).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	events := make([]ClusterEvent, len(rows))
	for i, row := range rows {
		events[i] = rowToEvent(row)
	}
	return events, nil
}

// RecentLogs returns log entries within the trailing window, newest first.
func (s *Store) RecentLogs(connectionID string, windowMinutes int) ([]LogEntry, error) {
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	var rows []LogEntry
	err := s.db.
		Where("connection_id = ? AND log_timestamp >= ?", connectionID, cutoff).
		Order("log_timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent logs: %w", err)
	}
	return rows, nil
}
