package compliance

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const policyEventWindowHours = 2

// RiskyRole is one high-risk role, deduplicated by scope and name
type RiskyRole struct {
	Scope  string `json:"scope"` // "cluster" or a namespace
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// OrphanedBinding names a binding whose service-account subject no longer exists
type OrphanedBinding struct {
	Scope          string `json:"scope"`
	Binding        string `json:"binding"`
	ServiceAccount string `json:"serviceAccount"`
}

// ServiceAccountRef identifies a tokenless service account
type ServiceAccountRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// SecretFinding flags one secret as expiring or unencrypted
type SecretFinding struct {
	Namespace     string `json:"namespace"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	DaysRemaining int    `json:"daysRemaining,omitempty"`
}

// PolicyFinding is a failing policy derived from recent admission events
type PolicyFinding struct {
	Severity string `json:"severity"` // critical | high | medium
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Object   string `json:"object"`
}

// ComplianceSummary is the full compliance scan result for one connection.
// Sub-scans that could not run appear as empty lists, never as errors.
type ComplianceSummary struct {
	ConnectionID             string              `json:"connectionId"`
	HighRiskRoles            []RiskyRole         `json:"highRiskRoles"`
	OrphanedBindings         []OrphanedBinding   `json:"orphanedBindings"`
	TokenlessServiceAccounts []ServiceAccountRef `json:"tokenlessServiceAccounts"`
	ExpiringSecrets          []SecretFinding     `json:"expiringSecrets"`
	UnencryptedSecrets       []SecretFinding     `json:"unencryptedSecrets"`
	FailingPolicies          []PolicyFinding     `json:"failingPolicies"`
	PassingPolicies          int                 `json:"passingPolicies"`
	NetworkPolicyCount       int                 `json:"networkPolicyCount"`
	GeneratedAt              time.Time           `json:"generatedAt"`
}

// ComplianceSummary runs the RBAC, secrets, and policy scans concurrently.
// A nil connection yields the static demo summary.
func (s *Service) ComplianceSummary(ctx context.Context, conn *storage.ClusterConnection) ComplianceSummary {
	if conn == nil {
		return demoComplianceSummary()
	}

	summary := ComplianceSummary{
		ConnectionID:             conn.ID,
		HighRiskRoles:            []RiskyRole{},
		OrphanedBindings:         []OrphanedBinding{},
		TokenlessServiceAccounts: []ServiceAccountRef{},
		ExpiringSecrets:          []SecretFinding{},
		UnencryptedSecrets:       []SecretFinding{},
		FailingPolicies:          []PolicyFinding{},
		GeneratedAt:              time.Now().UTC(),
	}

	clientset, err := s.cluster.Clientset(conn)
	if err != nil {
		// The policy-event scan only needs the store, so it still runs
		// when no session can be built.
		s.logger.Warn("compliance scan degraded, session unavailable for connection %s: %v", conn.ID, err)
		events := attempt(s, "policy-events", func() ([]storage.ClusterEvent, error) {
			return s.store.RecentEvents(conn.ID, policyEventWindowHours)
		})
		summary.FailingPolicies = failingPolicies(events)
		return summary
	}

	var (
		rbac     rbacScanResult
		secrets  secretScanResult
		policies []networkingv1.NetworkPolicy
		events   []storage.ClusterEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rbac = s.scanRBAC(gctx, clientset)
		return nil
	})
	g.Go(func() error {
		secrets = s.scanSecrets(gctx, clientset)
		return nil
	})
	g.Go(func() error {
		policies = attempt(s, "networkpolicies", func() ([]networkingv1.NetworkPolicy, error) {
			cctx, cancel := s.cluster.CallContext(gctx)
			defer cancel()
			list, err := clientset.NetworkingV1().NetworkPolicies(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			return list.Items, nil
		})
		return nil
	})
	g.Go(func() error {
		events = attempt(s, "policy-events", func() ([]storage.ClusterEvent, error) {
			return s.store.RecentEvents(conn.ID, policyEventWindowHours)
		})
		return nil
	})
	_ = g.Wait()

	summary.HighRiskRoles = rbac.highRiskRoles
	summary.OrphanedBindings = rbac.orphanedBindings
	summary.TokenlessServiceAccounts = rbac.tokenlessAccounts
	summary.ExpiringSecrets = secrets.expiring
	summary.UnencryptedSecrets = secrets.unencrypted
	summary.FailingPolicies = failingPolicies(events)
	summary.NetworkPolicyCount = len(policies)
	summary.PassingPolicies = summary.NetworkPolicyCount - len(summary.FailingPolicies)
	if summary.PassingPolicies < 0 {
		summary.PassingPolicies = 0
	}
	return summary
}

type rbacScanResult struct {
	highRiskRoles     []RiskyRole
	orphanedBindings  []OrphanedBinding
	tokenlessAccounts []ServiceAccountRef
}

func (s *Service) scanRBAC(ctx context.Context, clientset kubernetes.Interface) rbacScanResult {
	cctx, cancel := s.cluster.CallContext(ctx)
	defer cancel()

	clusterRoles := attempt(s, "clusterroles", func() ([]rbacv1.ClusterRole, error) {
		list, err := clientset.RbacV1().ClusterRoles().List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
	roles := attempt(s, "roles", func() ([]rbacv1.Role, error) {
		list, err := clientset.RbacV1().Roles(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
	clusterBindings := attempt(s, "clusterrolebindings", func() ([]rbacv1.ClusterRoleBinding, error) {
		list, err := clientset.RbacV1().ClusterRoleBindings().List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
	bindings := attempt(s, "rolebindings", func() ([]rbacv1.RoleBinding, error) {
		list, err := clientset.RbacV1().RoleBindings(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
	accounts := attempt(s, "serviceaccounts", func() ([]corev1.ServiceAccount, error) {
		list, err := clientset.CoreV1().ServiceAccounts(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})

	result := rbacScanResult{
		highRiskRoles:     []RiskyRole{},
		orphanedBindings:  []OrphanedBinding{},
		tokenlessAccounts: []ServiceAccountRef{},
	}

	// wildcard rule index per role, keyed scope/name
	wildcard := map[string]bool{}
	for _, role := range clusterRoles {
		wildcard["cluster/"+role.Name] = hasWildcardRule(role.Rules)
	}
	for _, role := range roles {
		wildcard[role.Namespace+"/"+role.Name] = hasWildcardRule(role.Rules)
	}

	liveAccounts := map[string]bool{}
	for _, sa := range accounts {
		liveAccounts[sa.Namespace+"/"+sa.Name] = true
		if len(sa.Secrets) == 0 && !automountDisabled(sa) {
			result.tokenlessAccounts = append(result.tokenlessAccounts, ServiceAccountRef{
				Namespace: sa.Namespace,
				Name:      sa.Name,
			})
		}
	}

	// The same role surfaced through multiple bindings counts once
	seen := map[string]bool{}
	flagRole := func(scope, name, reason string) {
		key := scope + "/" + name
		if seen[key] {
			return
		}
		seen[key] = true
		result.highRiskRoles = append(result.highRiskRoles, RiskyRole{Scope: scope, Name: name, Reason: reason})
	}
	checkBinding := func(scope, bindingName string, roleRef rbacv1.RoleRef, subjects []rbacv1.Subject) {
		roleScope := scope
		if roleRef.Kind == "ClusterRole" {
			roleScope = "cluster"
		}
		if reason := riskReason(roleRef.Name, wildcard[roleScope+"/"+roleRef.Name]); reason != "" {
			flagRole(roleScope, roleRef.Name, reason)
		}
		for _, subject := range subjects {
			if subject.Kind == rbacv1.GroupKind && subject.Name == "system:masters" {
				flagRole(roleScope, roleRef.Name, "bound to system:masters")
			}
			if subject.Kind != rbacv1.ServiceAccountKind {
				continue
			}
			if !liveAccounts[subject.Namespace+"/"+subject.Name] {
				result.orphanedBindings = append(result.orphanedBindings, OrphanedBinding{
					Scope:          scope,
					Binding:        bindingName,
					ServiceAccount: subject.Namespace + "/" + subject.Name,
				})
			}
		}
	}
	for _, b := range clusterBindings {
		checkBinding("cluster", b.Name, b.RoleRef, b.Subjects)
	}
	for _, b := range bindings {
		checkBinding(b.Namespace, b.Name, b.RoleRef, b.Subjects)
	}

	return result
}

func riskReason(roleName string, hasWildcard bool) string {
	if roleName == "cluster-admin" || roleName == "system:masters" {
		return "well-known admin role"
	}
	if hasWildcard {
		return "wildcard verb or resource"
	}
	return ""
}

func hasWildcardRule(rules []rbacv1.PolicyRule) bool {
	for _, rule := range rules {
		for _, verb := range rule.Verbs {
			if verb == rbacv1.VerbAll {
				return true
			}
		}
		for _, resource := range rule.Resources {
			if resource == rbacv1.ResourceAll {
				return true
			}
		}
	}
	return false
}

func automountDisabled(sa corev1.ServiceAccount) bool {
	return sa.AutomountServiceAccountToken != nil && !*sa.AutomountServiceAccountToken
}

type secretScanResult struct {
	expiring    []SecretFinding
	unencrypted []SecretFinding
}

// Annotations consulted by the secrets scan
var (
	expiryAnnotations     = []string{"clusterdeck.io/expires-at", "expiry-date", "expires"}
	encryptionAnnotations = []string{"encryption-provider", "sealedsecrets.bitnami.com/managed", "sealedsecrets.bitnami.com/sealed-secrets-key"}
)

func (s *Service) scanSecrets(ctx context.Context, clientset kubernetes.Interface) secretScanResult {
	cctx, cancel := s.cluster.CallContext(ctx)
	defer cancel()

	secrets := attempt(s, "secrets", func() ([]corev1.Secret, error) {
		list, err := clientset.CoreV1().Secrets(metav1.NamespaceAll).List(cctx, metav1.ListOptions{})
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})

	result := secretScanResult{expiring: []SecretFinding{}, unencrypted: []SecretFinding{}}
	now := time.Now()
	for _, secret := range secrets {
		if days, ok := secretDaysRemaining(secret, now); ok && days >= 0 && days <= 30 {
			result.expiring = append(result.expiring, SecretFinding{
				Namespace:     secret.Namespace,
				Name:          secret.Name,
				Type:          string(secret.Type),
				DaysRemaining: days,
			})
		}
		if secret.Type == corev1.SecretTypeOpaque && !hasEncryptionAnnotation(secret) {
			result.unencrypted = append(result.unencrypted, SecretFinding{
				Namespace: secret.Namespace,
				Name:      secret.Name,
				Type:      string(secret.Type),
			})
		}
	}
	return result
}

func secretDaysRemaining(secret corev1.Secret, now time.Time) (int, bool) {
	for _, key := range expiryAnnotations {
		raw, ok := secret.Annotations[key]
		if !ok {
			continue
		}
		expiry, err := parseExpiry(raw)
		if err != nil {
			continue
		}
		// Floor so a secret whose expiry already passed comes out
		// negative instead of truncating up to day zero.
		return int(math.Floor(expiry.Sub(now).Hours() / 24)), true
	}
	return 0, false
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func hasEncryptionAnnotation(secret corev1.Secret) bool {
	for _, key := range encryptionAnnotations {
		if _, ok := secret.Annotations[key]; ok {
			return true
		}
	}
	return false
}

var policyMarkers = []string{"policy", "gatekeeper", "kyverno", "podsecurity", "admission deny"}

// failingPolicies derives policy violations from recent admission events
func failingPolicies(events []storage.ClusterEvent) []PolicyFinding {
	findings := []PolicyFinding{}
	for _, ev := range events {
		haystack := strings.ToLower(ev.Reason + " " + ev.Message + " " + ev.InvolvedObject.Kind)
		matched := false
		for _, marker := range policyMarkers {
			if strings.Contains(haystack, marker) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		severity := "medium"
		switch ev.Type {
		case "Error":
			severity = "critical"
		case "Warning":
			severity = "high"
		}
		findings = append(findings, PolicyFinding{
			Severity: severity,
			Reason:   ev.Reason,
			Message:  ev.Message,
			Object:   ev.InvolvedObject.Kind + "/" + ev.InvolvedObject.Name,
		})
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
	})
	return findings
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "high":
		return 2
	default:
		return 1
	}
}
