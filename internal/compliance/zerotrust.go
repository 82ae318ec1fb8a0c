package compliance

import (
	"context"
	"math"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	riskScoreFloor   = 5
	riskScoreCeiling = 100
)

// ZeroTrustSnapshot is the aggregate posture view derived from the
// compliance scan plus network-policy coverage.
type ZeroTrustSnapshot struct {
	ConnectionID           string `json:"connectionId"`
	RiskScore              int    `json:"riskScore"`
	NetworkCoveragePercent int    `json:"networkCoveragePercent"`
	HighRiskRoles          int    `json:"highRiskRoles"`
	OrphanedBindings       int    `json:"orphanedBindings"`
	TokenlessAccounts      int    `json:"tokenlessAccounts"`
	ExpiringSecrets        int    `json:"expiringSecrets"`
	UnencryptedSecrets     int    `json:"unencryptedSecrets"`
	FailingPolicies        int    `json:"failingPolicies"`
}

// ZeroTrustSnapshot scores the connection's posture. A nil connection
// yields the static demo snapshot.
func (s *Service) ZeroTrustSnapshot(ctx context.Context, conn *storage.ClusterConnection) ZeroTrustSnapshot {
	if conn == nil {
		return demoZeroTrustSnapshot()
	}

	summary := s.ComplianceSummary(ctx, conn)

	totalNamespaces, coveredNamespaces := 1, 0
	if clientset, err := s.cluster.Clientset(conn); err == nil {
		cctx, cancel := s.cluster.CallContext(ctx)
		namespaces := attempt(s, "namespaces", func() ([]corev1.Namespace, error) {
			list, err := clientset.CoreV1().Namespaces().List(cctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			return list.Items, nil
		})
		policies := attempt(s, "networkpolicies", func() ([]networkingv1.NetworkPolicy, error) {
			list, err := clientset.NetworkingV1().NetworkPolicies(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			return list.Items, nil
		})
		cancel()

		if len(namespaces) > 0 {
			totalNamespaces = len(namespaces)
		}
		covered := map[string]bool{}
		for _, policy := range policies {
			covered[policy.Namespace] = true
		}
		coveredNamespaces = len(covered)
	} else {
		s.logger.Warn("network coverage degraded, session unavailable for connection %s: %v", conn.ID, err)
	}

	return ZeroTrustSnapshot{
		ConnectionID:           conn.ID,
		RiskScore:              riskScore(summary),
		NetworkCoveragePercent: int(math.Round(float64(coveredNamespaces) / float64(totalNamespaces) * 100)),
		HighRiskRoles:          len(summary.HighRiskRoles),
		OrphanedBindings:       len(summary.OrphanedBindings),
		TokenlessAccounts:      len(summary.TokenlessServiceAccounts),
		ExpiringSecrets:        len(summary.ExpiringSecrets),
		UnencryptedSecrets:     len(summary.UnencryptedSecrets),
		FailingPolicies:        len(summary.FailingPolicies),
	}
}

// riskScore weighs each finding class and clamps to [5,100]. The floor is
// deliberate: even a clean scan never reads as a zero-risk cluster.
func riskScore(summary ComplianceSummary) int {
	weighted := 12*len(summary.HighRiskRoles) +
		6*len(summary.OrphanedBindings) +
		4*len(summary.TokenlessServiceAccounts) +
		8*len(summary.ExpiringSecrets) +
		10*len(summary.UnencryptedSecrets) +
		9*len(summary.FailingPolicies)
	score := int(math.Round(float64(weighted) / 2))
	if score < riskScoreFloor {
		return riskScoreFloor
	}
	if score > riskScoreCeiling {
		return riskScoreCeiling
	}
	return score
}
