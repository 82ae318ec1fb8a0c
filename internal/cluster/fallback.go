package cluster

import "github.com/clusterdeck/clusterdeck/internal/storage"

// Pre-baked fallback payloads returned when a live read fails. These keep
// the dashboard usable while a tenant's cluster is flaky or unreachable;
// truthfulness is communicated through the content (Live=false, empty
// lists), never through an error to the caller.

func fallbackSummary(conn *storage.ClusterConnection) ClusterSummary {
	return ClusterSummary{
		ClusterName:       conn.Name,
		KubernetesVersion: "unknown",
		Live:              false,
	}
}

func fallbackWorkloads() []Workload {
	return []Workload{}
}

func fallbackEvents() []storage.ClusterEvent {
	return []storage.ClusterEvent{}
}

func fallbackLogs() []storage.LogEntry {
	return []storage.LogEntry{}
}

func fallbackAlerts() []Alert {
	return []Alert{}
}

func fallbackAudit() []AuditRecord {
	return []AuditRecord{}
}
