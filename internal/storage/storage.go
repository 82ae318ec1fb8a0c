// Package storage persists connection, telemetry, and optimizer rows in
// sqlite via gorm. It is the only source of truth for the registry and the
// telemetry window; concurrent readers and writers rely on the database's
// own transaction handling, not application-level locks.
package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clusterdeck/clusterdeck/internal/logging"
)

// Store wraps the database handle and owns all row access
type Store struct {
	db     *gorm.DB
	logger *logging.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the schema
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&ClusterConnection{},
		&clusterEventRow{},
		&LogEntry{},
		&IncidentNote{},
		&NodePricingEntry{},
		&OptimizerInsight{},
		&OptimizerAutoAction{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.GetLogger("storage"),
	}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
