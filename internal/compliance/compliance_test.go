package compliance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

func newTestService(t *testing.T, clientset *fake.Clientset) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clusterSvc := cluster.NewService(cluster.Options{
		Store: store,
		SessionBuilder: func(conn *storage.ClusterConnection, _ time.Duration) (*cluster.Session, error) {
			return &cluster.Session{
				ConnectionID: conn.ID,
				Name:         conn.Name,
				Clientset:    clientset,
			}, nil
		},
	})
	return NewService(store, clusterSvc, nil, nil), store
}

func testConnection() *storage.ClusterConnection {
	return &storage.ClusterConnection{
		ID:       "conn-1",
		TenantID: "tenant-a",
		Name:     "prod-east",
		APIURL:   "https://10.0.0.1:6443",
	}
}

func TestComplianceSummaryScans(t *testing.T) {
	expiry := time.Now().Add(10 * 24 * time.Hour).Format(time.RFC3339)
	clientset := fake.NewSimpleClientset(
		&rbacv1.ClusterRole{
			ObjectMeta: metav1.ObjectMeta{Name: "ops-admin"},
			Rules:      []rbacv1.PolicyRule{{Verbs: []string{"*"}, Resources: []string{"pods"}, APIGroups: []string{""}}},
		},
		&rbacv1.ClusterRoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "ops-binding"},
			RoleRef:    rbacv1.RoleRef{Kind: "ClusterRole", Name: "ops-admin"},
		},
		&rbacv1.ClusterRoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "admins"},
			RoleRef:    rbacv1.RoleRef{Kind: "ClusterRole", Name: "cluster-admin"},
		},
		&rbacv1.ClusterRoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "more-admins"},
			RoleRef:    rbacv1.RoleRef{Kind: "ClusterRole", Name: "cluster-admin"},
		},
		&rbacv1.RoleBinding{
			ObjectMeta: metav1.ObjectMeta{Namespace: "app", Name: "ghost-binding"},
			RoleRef:    rbacv1.RoleRef{Kind: "Role", Name: "reader"},
			Subjects: []rbacv1.Subject{
				{Kind: rbacv1.ServiceAccountKind, Namespace: "app", Name: "ghost"},
			},
		},
		&corev1.ServiceAccount{
			ObjectMeta: metav1.ObjectMeta{Namespace: "app", Name: "bot"},
			Secrets:    []corev1.ObjectReference{{Name: "bot-token"}},
		},
		&corev1.ServiceAccount{
			ObjectMeta: metav1.ObjectMeta{Namespace: "app", Name: "tokenless"},
		},
		&corev1.ServiceAccount{
			ObjectMeta:                   metav1.ObjectMeta{Namespace: "app", Name: "locked-down"},
			AutomountServiceAccountToken: ptr.To(false),
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace:   "ingress",
				Name:        "tls-cert",
				Annotations: map[string]string{"clusterdeck.io/expires-at": expiry},
			},
			Type: corev1.SecretTypeTLS,
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "db-credentials"},
			Type:       corev1.SecretTypeOpaque,
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace:   "default",
				Name:        "sealed",
				Annotations: map[string]string{"sealedsecrets.bitnami.com/managed": "true"},
			},
			Type: corev1.SecretTypeOpaque,
		},
		&networkingv1.NetworkPolicy{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "deny-all"}},
		&networkingv1.NetworkPolicy{ObjectMeta: metav1.ObjectMeta{Namespace: "app", Name: "deny-all"}},
	)

	svc, store := newTestService(t, clientset)
	conn := testConnection()
	require.NoError(t, store.UpsertEvents(conn.ID, []storage.ClusterEvent{{
		ID:        "ev-1",
		Type:      "Warning",
		Reason:    "PolicyViolation",
		Message:   "gatekeeper denied the pod",
		Timestamp: time.Now().Add(-10 * time.Minute),
		InvolvedObject: storage.InvolvedObject{
			Kind: "Pod", Name: "api-0", Namespace: "default",
		},
	}}))

	summary := svc.ComplianceSummary(context.Background(), conn)

	// cluster-admin counts once despite two bindings
	require.Len(t, summary.HighRiskRoles, 2)
	names := map[string]string{}
	for _, role := range summary.HighRiskRoles {
		names[role.Name] = role.Reason
	}
	assert.Equal(t, "well-known admin role", names["cluster-admin"])
	assert.Equal(t, "wildcard verb or resource", names["ops-admin"])

	require.Len(t, summary.OrphanedBindings, 1)
	assert.Equal(t, "app/ghost", summary.OrphanedBindings[0].ServiceAccount)

	require.Len(t, summary.TokenlessServiceAccounts, 1)
	assert.Equal(t, "tokenless", summary.TokenlessServiceAccounts[0].Name)

	require.Len(t, summary.ExpiringSecrets, 1)
	assert.Equal(t, "tls-cert", summary.ExpiringSecrets[0].Name)
	assert.InDelta(t, 9, summary.ExpiringSecrets[0].DaysRemaining, 1)

	require.Len(t, summary.UnencryptedSecrets, 1)
	assert.Equal(t, "db-credentials", summary.UnencryptedSecrets[0].Name)

	require.Len(t, summary.FailingPolicies, 1)
	assert.Equal(t, "high", summary.FailingPolicies[0].Severity)
	assert.Equal(t, 2, summary.NetworkPolicyCount)
	assert.Equal(t, 1, summary.PassingPolicies)
}

func TestComplianceSummaryNilConnectionServesDemo(t *testing.T) {
	svc, _ := newTestService(t, fake.NewSimpleClientset())

	summary := svc.ComplianceSummary(context.Background(), nil)

	assert.Equal(t, "demo", summary.ConnectionID)
	assert.NotEmpty(t, summary.HighRiskRoles)
}

func TestComplianceSummaryPolicyScanSurvivesSessionFailure(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clusterSvc := cluster.NewService(cluster.Options{
		Store: store,
		SessionBuilder: func(conn *storage.ClusterConnection, _ time.Duration) (*cluster.Session, error) {
			return nil, errors.New("connection refused")
		},
	})
	svc := NewService(store, clusterSvc, nil, nil)

	conn := testConnection()
	require.NoError(t, store.UpsertEvents(conn.ID, []storage.ClusterEvent{{
		ID:        "ev-policy",
		Type:      "Warning",
		Reason:    "FailedAdmission",
		Message:   "gatekeeper denied deployment",
		Timestamp: time.Now(),
	}}))

	summary := svc.ComplianceSummary(context.Background(), conn)

	// Only the live sub-scans degrade to empty; the policy-event scan
	// reads from the store and still produces its findings.
	assert.Empty(t, summary.HighRiskRoles)
	assert.Empty(t, summary.ExpiringSecrets)
	require.Len(t, summary.FailingPolicies, 1)
	assert.Equal(t, "high", summary.FailingPolicies[0].Severity)
	assert.Equal(t, 0, summary.PassingPolicies)
}

func TestComplianceSummarySkipsAlreadyExpiredSecrets(t *testing.T) {
	expired := time.Now().Add(-5 * time.Hour).Format(time.RFC3339)
	clientset := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "stale-cert",
			Namespace:   "default",
			Annotations: map[string]string{"clusterdeck.io/expires-at": expired},
		},
		Type: corev1.SecretTypeTLS,
	})
	svc, _ := newTestService(t, clientset)

	summary := svc.ComplianceSummary(context.Background(), testConnection())

	assert.Empty(t, summary.ExpiringSecrets)
}

func TestSecretDaysRemaining(t *testing.T) {
	now := time.Now()
	annotated := func(raw string) corev1.Secret {
		return corev1.Secret{ObjectMeta: metav1.ObjectMeta{
			Annotations: map[string]string{"expires": raw},
		}}
	}

	// expired hours ago floors to a negative day count
	days, ok := secretDaysRemaining(annotated(now.Add(-5*time.Hour).Format(time.RFC3339)), now)
	require.True(t, ok)
	assert.Equal(t, -1, days)

	// partway through the final day still counts as day zero
	days, ok = secretDaysRemaining(annotated(now.Add(12*time.Hour).Format(time.RFC3339)), now)
	require.True(t, ok)
	assert.Equal(t, 0, days)

	_, ok = secretDaysRemaining(corev1.Secret{}, now)
	assert.False(t, ok)
}

func TestWarRoomCriticalIncident(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())
	conn := testConnection()

	events := make([]storage.ClusterEvent, 0, 30)
	now := time.Now()
	for i := 0; i < 30; i++ {
		events = append(events, storage.ClusterEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      "Warning",
			Reason:    "BackOff",
			Message:   "restarting failed container",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.UpsertEvents(conn.ID, events))

	logs := make([]storage.LogEntry, 0, 20)
	for i := 0; i < 20; i++ {
		logs = append(logs, storage.LogEntry{
			Namespace: "default", Pod: "api-0", Container: "app",
			Level: "error", Message: "panic: connection refused",
			LogTimestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.InsertLogs(conn.ID, logs))

	incident := svc.WarRoom(context.Background(), conn)

	require.NotNil(t, incident)
	assert.Equal(t, "critical", incident.Severity)
	assert.Equal(t, "investigating", incident.Status)
	assert.Equal(t, 30, incident.EventCount)
	assert.Equal(t, 20, incident.ErrorLogCount)
	require.NotEmpty(t, incident.Timeline)
	assert.Equal(t, "BackOff", incident.Timeline[0].Reason)
	require.NotEmpty(t, incident.ActionItems)
	assert.Contains(t, incident.ActionItems[0], "CrashLoopBackOff")
	assert.False(t, incident.Demo)
}

func TestWarRoomNilWhenSilent(t *testing.T) {
	svc, _ := newTestService(t, fake.NewSimpleClientset())

	incident := svc.WarRoom(context.Background(), testConnection())

	assert.Nil(t, incident)
	demo := DemoWarRoom()
	assert.True(t, demo.Demo)
	assert.Equal(t, "demo", demo.ConnectionID)
}

func TestIncidentIDBucketStability(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	within := incidentID("conn-1", base.Add(9*time.Minute))
	same := incidentID("conn-1", base.Add(1*time.Minute))
	next := incidentID("conn-1", base.Add(11*time.Minute))
	other := incidentID("conn-2", base.Add(1*time.Minute))

	assert.Equal(t, same, within)
	assert.NotEqual(t, same, next)
	assert.NotEqual(t, same, other)
}

func TestTimelineAndActionItemLimits(t *testing.T) {
	events := []storage.ClusterEvent{}
	reasons := []string{"BackOff", "BackOff", "BackOff", "FailedScheduling", "FailedScheduling", "Unhealthy", "OOMKilling", "FailedMount", "Evicted"}
	for i, reason := range reasons {
		events = append(events, storage.ClusterEvent{
			ID: "ev-" + string(rune('a'+i)), Type: "Warning", Reason: reason, Timestamp: time.Now(),
		})
	}

	incident := synthesizeIncident("conn-1", events, nil, nil, time.Now().UTC())

	require.Len(t, incident.Timeline, 4)
	assert.Equal(t, "BackOff", incident.Timeline[0].Reason)
	assert.Equal(t, 3, incident.Timeline[0].Count)
	assert.Len(t, incident.ActionItems, 3)
}

func TestTrendBands(t *testing.T) {
	assert.Equal(t, "flat", trendOf(10, 10))
	assert.Equal(t, "flat", trendOf(10, 10))
	assert.Equal(t, "flat", trendOf(21, 20)) // 5% delta
	assert.Equal(t, "up", trendOf(23, 20))   // 15% delta
	assert.Equal(t, "down", trendOf(17, 20))
	assert.Equal(t, "up", trendOf(3, 0)) // safe denominator
}

func TestRiskScoreBounds(t *testing.T) {
	assert.Equal(t, 5, riskScore(ComplianceSummary{}))

	loaded := ComplianceSummary{
		HighRiskRoles:      make([]RiskyRole, 10),
		UnencryptedSecrets: make([]SecretFinding, 10),
	}
	assert.Equal(t, 100, riskScore(loaded))

	moderate := ComplianceSummary{
		HighRiskRoles:   make([]RiskyRole, 1),
		ExpiringSecrets: make([]SecretFinding, 1),
	}
	// (12 + 8) / 2
	assert.Equal(t, 10, riskScore(moderate))
}

func TestZeroTrustSnapshotCoverage(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "app"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "batch"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "ops"}},
		&networkingv1.NetworkPolicy{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "deny-all"}},
	)
	svc, _ := newTestService(t, clientset)

	snapshot := svc.ZeroTrustSnapshot(context.Background(), testConnection())

	assert.Equal(t, 25, snapshot.NetworkCoveragePercent)
	assert.GreaterOrEqual(t, snapshot.RiskScore, 5)
	assert.LessOrEqual(t, snapshot.RiskScore, 100)
}

func TestAddIncidentNote(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())
	conn := testConnection()

	note, err := svc.AddIncidentNote(conn, "oncall", "rolled back api to v41")
	require.NoError(t, err)
	assert.NotEmpty(t, note.ID)

	notes, err := store.ListIncidentNotes(conn.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	_, err = svc.AddIncidentNote(nil, "oncall", "orphan note")
	require.Error(t, err)
}
