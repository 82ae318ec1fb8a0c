package compliance

import (
	"time"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Static demo payloads served when no connection is selected or when a
// connection has no incident signal at all. Marked Demo so consumers never
// mistake them for a live all-clear.

const demoConnectionID = "demo"

func demoComplianceSummary() ComplianceSummary {
	return ComplianceSummary{
		ConnectionID: demoConnectionID,
		HighRiskRoles: []RiskyRole{
			{Scope: "cluster", Name: "cluster-admin", Reason: "well-known admin role"},
			{Scope: "default", Name: "legacy-deployer", Reason: "wildcard verb or resource"},
		},
		OrphanedBindings: []OrphanedBinding{
			{Scope: "staging", Binding: "ci-deploy", ServiceAccount: "staging/ci-runner"},
		},
		TokenlessServiceAccounts: []ServiceAccountRef{
			{Namespace: "default", Name: "default"},
		},
		ExpiringSecrets: []SecretFinding{
			{Namespace: "ingress", Name: "tls-cert", Type: "kubernetes.io/tls", DaysRemaining: 12},
		},
		UnencryptedSecrets: []SecretFinding{
			{Namespace: "default", Name: "db-credentials", Type: "Opaque"},
		},
		FailingPolicies: []PolicyFinding{
			{Severity: "high", Reason: "PolicyViolation", Message: "container runs as root", Object: "Pod/api-0"},
		},
		PassingPolicies:    4,
		NetworkPolicyCount: 5,
		GeneratedAt:        time.Now().UTC(),
	}
}

func demoZeroTrustSnapshot() ZeroTrustSnapshot {
	summary := demoComplianceSummary()
	return ZeroTrustSnapshot{
		ConnectionID:           demoConnectionID,
		RiskScore:              riskScore(summary),
		NetworkCoveragePercent: 40,
		HighRiskRoles:          len(summary.HighRiskRoles),
		OrphanedBindings:       len(summary.OrphanedBindings),
		TokenlessAccounts:      len(summary.TokenlessServiceAccounts),
		ExpiringSecrets:        len(summary.ExpiringSecrets),
		UnencryptedSecrets:     len(summary.UnencryptedSecrets),
		FailingPolicies:        len(summary.FailingPolicies),
	}
}

// DemoWarRoom is the static incident snapshot substituted when WarRoom
// returns nil.
func DemoWarRoom() *WarRoomIncident {
	now := time.Now().UTC()
	return &WarRoomIncident{
		IncidentID:    incidentID(demoConnectionID, now),
		ConnectionID:  demoConnectionID,
		Severity:      "high",
		Status:        "monitoring",
		EventCount:    11,
		ErrorLogCount: 6,
		Timeline: []TimelineEntry{
			{Reason: "BackOff", Count: 5},
			{Reason: "FailedScheduling", Count: 3},
			{Reason: "Unhealthy", Count: 2},
			{Reason: "FailedMount", Count: 1},
		},
		ActionItems: []string{
			actionForReason("BackOff"),
			actionForReason("FailedScheduling"),
			actionForReason("Unhealthy"),
		},
		EventTrend: "flat",
		LogTrend:   "up",
		Notes:      []storage.IncidentNote{},
		Demo:       true,
	}
}
