package cluster

import "time"

// ClusterSummary is the dashboard-facing rollup of one cluster's state.
// Live reports false when the payload is a fallback rather than real data.
type ClusterSummary struct {
	ClusterName       string `json:"clusterName"`
	KubernetesVersion string `json:"kubernetesVersion"`
	Live              bool   `json:"live"`
	NodeCount         int    `json:"nodeCount"`
	ReadyNodeCount    int    `json:"readyNodeCount"`
	NamespaceCount    int    `json:"namespaceCount"`
	PodCount          int    `json:"podCount"`
	RunningPodCount   int    `json:"runningPodCount"`
}

// Workload is one deployment-shaped workload with its replica health
type Workload struct {
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	Namespace       string `json:"namespace"`
	DesiredReplicas int32  `json:"desiredReplicas"`
	ReadyReplicas   int32  `json:"readyReplicas"`
	MissingReplicas int32  `json:"missingReplicas"`
	Status          string `json:"status"`   // healthy | degraded
	Severity        string `json:"severity"` // high | medium | low
}

// Alert is a warning/error event surfaced as an operator-facing alert
type Alert struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"` // critical | warning
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Resource  string    `json:"resource"`
	Namespace string    `json:"namespace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditRecord is one entry of the event-derived audit feed
type AuditRecord struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Namespace string    `json:"namespace,omitempty"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// workloadSeverity grades replica shortfall. Two or more missing replicas is
// the auto-heal threshold.
func workloadSeverity(missing int32) string {
	switch {
	case missing >= 2:
		return "high"
	case missing == 1:
		return "medium"
	default:
		return "low"
	}
}
