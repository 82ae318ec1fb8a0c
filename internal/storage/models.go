package storage

import (
	"encoding/json"
	"time"
)

// ClusterConnection is a tenant-scoped record of stored credentials and
// endpoint for one external cluster. Credentials are stored opaque; no
// validation beyond shape happens at this layer.
type ClusterConnection struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID        string    `gorm:"index:idx_cluster_connections_tenant;not null" json:"tenantId"`
	CreatedBy       string    `gorm:"size:36" json:"createdBy"`
	Name            string    `gorm:"not null" json:"name"`
	APIURL          string    `gorm:"column:api_url;not null" json:"apiUrl"`
	CACert          string    `gorm:"column:ca_cert;type:text" json:"caCert,omitempty"`
	InsecureTLS     bool      `gorm:"column:insecure_tls" json:"insecureTLS"`
	AuthBearerToken string    `gorm:"type:text" json:"-"`
	AuthClientCert  string    `gorm:"type:text" json:"-"`
	AuthClientKey   string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TableName implements the gorm naming override
func (ClusterConnection) TableName() string { return "cluster_connections" }

// InvolvedObject identifies the cluster object an event refers to
type InvolvedObject struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// ClusterEvent is the domain view of one ingested cluster event. The row
// itself stores the variable part as a JSON payload column.
type ClusterEvent struct {
	ID             string         `json:"id"`
	ConnectionID   string         `json:"connectionId"`
	Type           string         `json:"type"` // Normal | Warning | Error
	Reason         string         `json:"reason"`
	Message        string         `json:"message"`
	InvolvedObject InvolvedObject `json:"involvedObject"`
	Timestamp      time.Time      `json:"timestamp"`
}

// clusterEventRow is the persisted shape of a ClusterEvent, keyed by the
// source event id so re-ingestion upserts instead of duplicating.
type clusterEventRow struct {
	ID           string    `gorm:"primaryKey"`
	ConnectionID string    `gorm:"index:idx_cluster_events_connection;not null"`
	EventType    string    `gorm:"not null"`
	EventData    string    `gorm:"type:json"`
	CreatedAt    time.Time `gorm:"index:idx_cluster_events_created"`
}

func (clusterEventRow) TableName() string { return "cluster_events" }

type eventPayload struct {
	Reason         string         `json:"reason"`
	Message        string         `json:"message"`
	InvolvedObject InvolvedObject `json:"involvedObject"`
	Timestamp      time.Time      `json:"timestamp"`
}

func eventToRow(connectionID string, ev ClusterEvent) (clusterEventRow, error) {
	data, err := json.Marshal(eventPayload{
		Reason:         ev.Reason,
		Message:        ev.Message,
		InvolvedObject: ev.InvolvedObject,
		Timestamp:      ev.Timestamp,
	})
	if err != nil {
		return clusterEventRow{}, err
	}
	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return clusterEventRow{
		ID:           ev.ID,
		ConnectionID: connectionID,
		EventType:    ev.Type,
		EventData:    string(data),
		CreatedAt:    createdAt,
	}, nil
}

func rowToEvent(row clusterEventRow) ClusterEvent {
	var payload eventPayload
	// Rows are only written through eventToRow, so a decode failure leaves
	// the payload fields zeroed rather than failing the whole read.
	_ = json.Unmarshal([]byte(row.EventData), &payload)
	ts := payload.Timestamp
	if ts.IsZero() {
		ts = row.CreatedAt
	}
	return ClusterEvent{
		ID:             row.ID,
		ConnectionID:   row.ConnectionID,
		Type:           row.EventType,
		Reason:         payload.Reason,
		Message:        payload.Message,
		InvolvedObject: payload.InvolvedObject,
		Timestamp:      ts,
	}
}

// LogEntry is one ingested container log line. Append-only; duplicates are
// tolerated and bounded by the read-side time window.
type LogEntry struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ConnectionID string    `gorm:"index:idx_cluster_log_entries_connection;not null" json:"connectionId"`
	Namespace    string    `json:"namespace"`
	Pod          string    `json:"pod"`
	Container    string    `json:"container"`
	Level        string    `json:"level"`
	Message      string    `gorm:"type:text" json:"message"`
	LogTimestamp time.Time `gorm:"index:idx_cluster_log_entries_ts" json:"logTimestamp"`
	CreatedAt    time.Time `json:"-"`
}

// TableName implements the gorm naming override
func (LogEntry) TableName() string { return "cluster_log_entries" }

// IncidentNote is a user-authored annotation attached to a connection's
// rolling incident state.
type IncidentNote struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ConnectionID string    `gorm:"index:idx_incident_notes_connection;not null" json:"connectionId"`
	Author       string    `json:"author"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName implements the gorm naming override
func (IncidentNote) TableName() string { return "incident_notes" }

// NodePricingEntry is one row of the node cost catalog. Wildcard rows
// (provider "*" and/or instance type "*") act as fallback tiers.
type NodePricingEntry struct {
	Provider     string  `gorm:"primaryKey;size:64" json:"provider"`
	InstanceType string  `gorm:"primaryKey;size:64" json:"instanceType"`
	CPUHourly    float64 `gorm:"column:cpu_hourly" json:"cpuHourly"`
	MemoryHourly float64 `gorm:"column:memory_hourly" json:"memoryHourly"`
}

// TableName implements the gorm naming override
func (NodePricingEntry) TableName() string { return "node_cost_catalog" }

// OptimizerInsight is a severity-tagged finding produced by the efficiency
// analyzer. The set for a connection is fully replaced on every analysis run.
type OptimizerInsight struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConnectionID   string    `gorm:"index:idx_optimizer_recommendations_connection;not null" json:"connectionId"`
	Severity       string    `json:"severity"` // high | medium | low
	Title          string    `json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	Recommendation string    `gorm:"type:text" json:"recommendation,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TableName implements the gorm naming override
func (OptimizerInsight) TableName() string { return "optimizer_recommendations" }

// OptimizerAutoAction is the append-only audit of one remediation attempt.
// The dedup window query reads this table.
type OptimizerAutoAction struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ConnectionID string    `gorm:"index:idx_optimizer_auto_actions_connection;not null" json:"connectionId"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	Payload      string    `gorm:"type:json" json:"payload"`
	Status       string    `json:"status"` // success | failed | pending
	ExecutedAt   time.Time `gorm:"index:idx_optimizer_auto_actions_executed" json:"executedAt"`
}

// TableName implements the gorm naming override
func (OptimizerAutoAction) TableName() string { return "optimizer_auto_actions" }
