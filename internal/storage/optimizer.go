package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReplaceInsights deletes the connection's prior insight snapshot and
// inserts the new one in a single transaction. Insights are a point-in-time
// judgment, not an append log.
func (s *Store) ReplaceInsights(connectionID string, insights []OptimizerInsight) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_id = ?", connectionID).Delete(&OptimizerInsight{}).Error; err != nil {
			return err
		}
		if len(insights) == 0 {
			return nil
		}
		now := time.Now()
		rows := make([]OptimizerInsight, len(insights))
		for i, ins := range insights {
			if ins.ID == "" {
				ins.ID = uuid.NewString()
			}
			ins.ConnectionID = connectionID
			if ins.CreatedAt.IsZero() {
				ins.CreatedAt = now
			}
			rows[i] = ins
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace insights: %w", err)
	}
	return nil
}

// ListInsights returns the current insight snapshot for a connection
func (s *Store) ListInsights(connectionID string) ([]OptimizerInsight, error) {
	var insights []OptimizerInsight
	err := s.db.
		Where("connection_id = ?", connectionID).
		Order("created_at DESC").
		Find(&insights).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return insights, nil
}

// RecordAutoAction appends one remediation attempt to the audit table
func (s *Store) RecordAutoAction(action OptimizerAutoAction) (*OptimizerAutoAction, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.ExecutedAt.IsZero() {
		action.ExecutedAt = time.Now()
	}
	if err := s.db.Create(&action).Error; err != nil {
		return nil, fmt.Errorf("failed to record auto action: %w", err)
	}
	return &action, nil
}

// HasRecentAutoAction reports whether an action of the given kind was
// already issued against the target within the trailing window. This query
// is the dedup safeguard against remediation storms; it deliberately reads
// the audit table rather than in-memory state so it survives restarts.
func (s *Store) HasRecentAutoAction(connectionID, action, target string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	var count int64
	err := s.db.Model(&OptimizerAutoAction{}).
		Where("connection_id = ? AND action = ? AND target = ? AND executed_at >= ?",
			connectionID, action, target, cutoff).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query auto action window: %w", err)
	}
	return count > 0, nil
}

// ListAutoActions returns the remediation audit for a connection, newest first
func (s *Store) ListAutoActions(connectionID string) ([]OptimizerAutoAction, error) {
	var actions []OptimizerAutoAction
	err := s.db.
		Where("connection_id = ?", connectionID).
		Order("executed_at DESC").
		Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list auto actions: %w", err)
	}
	return actions, nil
}

// UpsertPricing inserts or overwrites catalog rows keyed by (provider, instance type)
func (s *Store) UpsertPricing(entries []NodePricingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "instance_type"}},
		UpdateAll: true,
	}).Create(&entries).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pricing entries: %w", err)
	}
	return nil
}

// PricingFor resolves hourly pricing for a node through the catalog's
// fallback chain: exact (provider, instanceType), then (provider, "*"),
// then ("*", "*"). Returns nil when no tier matches.
func (s *Store) PricingFor(provider, instanceType string) (*NodePricingEntry, error) {
	lookups := [][2]string{
		{provider, instanceType},
		{provider, "*"},
		{"*", "*"},
	}
	for _, key := range lookups {
		var entry NodePricingEntry
		err := s.db.
			Where("provider = ? AND instance_type = ?", key[0], key[1]).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query pricing: %w", err)
		}
		return &entry, nil
	}
	return nil, nil
}
