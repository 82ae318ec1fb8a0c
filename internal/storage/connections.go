package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionInput carries the caller-supplied fields for a new connection.
// Credential validation beyond presence happens in the cluster package.
type ConnectionInput struct {
	Name        string
	APIURL      string
	CACert      string
	InsecureTLS bool
	BearerToken string
	ClientCert  string
	ClientKey   string
}

// ListConnections returns all connections belonging to the tenant
func (s *Store) ListConnections(tenantID string) ([]ClusterConnection, error) {
	var conns []ClusterConnection
	err := s.db.
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// AllConnections returns every stored connection across tenants. Only the
// background collector uses this; request paths stay tenant-scoped.
func (s *Store) AllConnections() ([]ClusterConnection, error) {
	var conns []ClusterConnection
	if err := s.db.Order("created_at DESC").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// CreateConnection stores a new connection for the tenant and returns it
// with a generated id.
func (s *Store) CreateConnection(tenantID, createdBy string, input ConnectionInput) (*ClusterConnection, error) {
	if input.APIURL == "" {
		return nil, fmt.Errorf("apiUrl must not be empty")
	}

	conn := ClusterConnection{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		CreatedBy:       createdBy,
		Name:            input.Name,
		APIURL:          input.APIURL,
		CACert:          input.CACert,
		InsecureTLS:     input.InsecureTLS,
		AuthBearerToken: input.BearerToken,
		AuthClientCert:  input.ClientCert,
		AuthClientKey:   input.ClientKey,
		CreatedAt:       time.Now(),
	}
	if err := s.db.Create(&conn).Error; err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return &conn, nil
}

// GetConnection returns the connection with the given id, scoped to the
// tenant. Returns nil without error when no row matches; the compound
// tenant scope is the multi-tenancy boundary and is enforced here, never
// by the caller.
func (s *Store) GetConnection(tenantID, id string) (*ClusterConnection, error) {
	var conn ClusterConnection
	err := s.db.
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// DeleteConnection removes the connection and cascades its telemetry and
// derived rows. Returns whether a connection row was actually deleted;
// not found is not an error.
func (s *Store) DeleteConnection(tenantID, id string) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&ClusterConnection{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		if !deleted {
			return nil
		}
		for _, model := range []interface{}{
			&clusterEventRow{},
			&LogEntry{},
			&IncidentNote{},
			&OptimizerInsight{},
			&OptimizerAutoAction{},
		} {
			if err := tx.Where("connection_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete connection: %w", err)
	}
	return deleted, nil
}
