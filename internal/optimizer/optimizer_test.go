package optimizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
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

func capacityNode(name string, cpu, memory string) corev1.Node {
	alloc := corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse(cpu),
		corev1.ResourceMemory: resource.MustParse(memory),
	}
	return corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     corev1.NodeStatus{Capacity: alloc, Allocatable: alloc},
	}
}

func requestingPod(namespace, name, node, cpu, memory string) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: corev1.PodSpec{
			NodeName: node,
			Containers: []corev1.Container{{
				Name: "app",
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse(cpu),
						corev1.ResourceMemory: resource.MustParse(memory),
					},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func TestCapacityReportOverprovisionedNotPressured(t *testing.T) {
	// 900m requested against 2000m allocatable lands exactly on the 0.45
	// overprovision boundary, well below pressure.
	nodes := []corev1.Node{capacityNode("node-1", "2000m", "8Gi")}
	pods := []corev1.Pod{requestingPod("default", "api-0", "node-1", "900m", "1Gi")}

	report := buildCapacityReport(nodes, pods)

	assert.True(t, report.Live)
	assert.InDelta(t, 0.45, report.CPUUtilization, 0.001)

	insights := generateInsights(report, nil, nil, nil)
	titles := insightTitles(insights)
	assert.Contains(t, titles, "CPU overprovisioned")
	assert.NotContains(t, titles, "CPU under pressure")
}

func TestCapacityReportPressureBoundary(t *testing.T) {
	// 1700m of 2000m is exactly the 0.85 pressure threshold, inclusive
	nodes := []corev1.Node{capacityNode("node-1", "2000m", "8Gi")}
	pods := []corev1.Pod{requestingPod("default", "api-0", "node-1", "1700m", "1Gi")}

	report := buildCapacityReport(nodes, pods)
	require.InDelta(t, 0.85, report.CPUUtilization, 0.001)

	titles := insightTitles(generateInsights(report, nil, nil, nil))
	assert.Contains(t, titles, "CPU under pressure")
	assert.NotContains(t, titles, "CPU overprovisioned")
}

func TestCapacityReportHotAndColdNodes(t *testing.T) {
	nodes := []corev1.Node{
		capacityNode("hot-node", "1000m", "4Gi"),
		capacityNode("cold-node", "1000m", "4Gi"),
	}
	pods := []corev1.Pod{
		requestingPod("default", "busy-0", "hot-node", "800m", "1Gi"),
		requestingPod("default", "idle-0", "cold-node", "100m", "256Mi"),
	}

	report := buildCapacityReport(nodes, pods)

	require.Len(t, report.Nodes, 2)
	byName := map[string]NodeCapacity{}
	for _, n := range report.Nodes {
		byName[n.Name] = n
	}
	assert.True(t, byName["hot-node"].Hot)
	assert.False(t, byName["hot-node"].Cold)
	assert.True(t, byName["cold-node"].Cold)
	assert.False(t, byName["cold-node"].Hot)
}

func TestCapacityReportNamespacePressure(t *testing.T) {
	nodes := []corev1.Node{capacityNode("node-1", "4000m", "16Gi")}
	pods := []corev1.Pod{
		requestingPod("greedy", "worker-0", "node-1", "1200m", "1Gi"),
		requestingPod("modest", "api-0", "node-1", "200m", "512Mi"),
	}

	report := buildCapacityReport(nodes, pods)

	require.Len(t, report.Namespaces, 2)
	for _, ns := range report.Namespaces {
		switch ns.Name {
		case "greedy":
			assert.True(t, ns.UnderPressure)
		case "modest":
			assert.False(t, ns.UnderPressure)
		}
	}
}

func TestPodEffectiveRequestsInitContainerPeak(t *testing.T) {
	pod := corev1.Pod{
		Spec: corev1.PodSpec{
			InitContainers: []corev1.Container{
				{Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
					corev1.ResourceCPU: resource.MustParse("500m"),
				}}},
				{Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
					corev1.ResourceCPU: resource.MustParse("200m"),
				}}},
			},
			Containers: []corev1.Container{
				{Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("100m"),
					corev1.ResourceMemory: resource.MustParse("2Gi"),
				}}},
				{Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
					corev1.ResourceCPU: resource.MustParse("200m"),
				}}},
			},
		},
	}

	cpu, mem := podEffectiveRequests(pod)

	// init peak 500m beats the 300m app sum; app memory beats the memoryless inits
	assert.Equal(t, int64(500), cpu)
	assert.Equal(t, int64(2048), mem)
}

func TestGenerateInsightsFromTelemetry(t *testing.T) {
	events := []storage.ClusterEvent{
		{Reason: "FailedScheduling"},
		{Reason: "FailedScheduling"},
		{Reason: "Pulled"},
	}
	logs := []storage.LogEntry{
		{Message: "Back-off restarting failed container"},
		{Message: "warning CrashLoopBackOff for pod api-0"},
		{Message: "request served in 12ms"},
	}

	titles := insightTitles(generateInsights(fallbackCapacityReport(), nil, events, logs))

	assert.Contains(t, titles, "Pods failing to schedule")
	assert.Contains(t, titles, "Crash-looping containers")
	// degraded capacity contributes no utilization insights
	assert.NotContains(t, titles, "CPU overprovisioned")
}

func TestResolvePricingFallbackAndCache(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())
	require.NoError(t, store.UpsertPricing([]storage.NodePricingEntry{
		{Provider: "aws", InstanceType: "*", CPUHourly: 0.05, MemoryHourly: 0.006},
	}))

	cpu, mem := svc.resolvePricing("aws", "m5.large")
	assert.Equal(t, 0.05, cpu)
	assert.Equal(t, 0.006, mem)

	// unknown provider with no wildcard tier falls through to the defaults
	cpu, mem = svc.resolvePricing("gcp", "e2-standard-4")
	assert.Equal(t, defaultCPUHourly, cpu)
	assert.Equal(t, defaultMemoryHourly, mem)

	// an exact entry only takes effect once the cache is purged
	require.NoError(t, store.UpsertPricing([]storage.NodePricingEntry{
		{Provider: "aws", InstanceType: "m5.large", CPUHourly: 0.09, MemoryHourly: 0.01},
	}))
	cpu, _ = svc.resolvePricing("aws", "m5.large")
	assert.Equal(t, 0.05, cpu)
	svc.PurgePricingCache()
	cpu, _ = svc.resolvePricing("aws", "m5.large")
	assert.Equal(t, 0.09, cpu)
}

func TestEstimateCostWithoutNodes(t *testing.T) {
	svc, _ := newTestService(t, fake.NewSimpleClientset())

	estimate := svc.estimateCost(fallbackCapacityReport())

	assert.False(t, estimate.Live)
	assert.Zero(t, estimate.MonthlyCost)
	assert.Zero(t, estimate.PotentialMonthlySavings)
}

func TestEstimateCostPricesWaste(t *testing.T) {
	svc, _ := newTestService(t, fake.NewSimpleClientset())

	estimate := svc.estimateCost(CapacityReport{
		Live: true,
		Nodes: []NodeCapacity{{
			Name:                 "node-1",
			Provider:             "unknown",
			InstanceType:         "unknown",
			AllocatableCPUMillis: 2000,
			AllocatableMemoryMiB: 4096,
			RequestedCPUMillis:   500,
			RequestedMemoryMiB:   1024,
		}},
	})

	assert.True(t, estimate.Live)
	wantCost := (2.0*defaultCPUHourly + 4.0*defaultMemoryHourly) * hoursPerMonth
	wantSavings := (1.5*defaultCPUHourly + 3.0*defaultMemoryHourly) * hoursPerMonth
	assert.InDelta(t, wantCost, estimate.MonthlyCost, 0.001)
	assert.InDelta(t, wantSavings, estimate.PotentialMonthlySavings, 0.001)
}

func TestEnsureDefaultCatalogSeedsOnce(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())

	require.NoError(t, svc.EnsureDefaultCatalog(context.Background()))
	entry, err := store.PricingFor("digitalocean", "s-4vcpu-8gb")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, defaultCPUHourly, entry.CPUHourly)

	require.NoError(t, svc.EnsureDefaultCatalog(context.Background()))
}

func degradedDeployment(namespace, name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(3)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Annotations: map[string]string{}},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 1},
	}
}

func TestAutoHealRestartsOncePerWindow(t *testing.T) {
	clientset := fake.NewSimpleClientset(degradedDeployment("default", "api"))
	svc, store := newTestService(t, clientset)
	conn := testConnection()

	workloads := []cluster.Workload{{
		Kind: "Deployment", Namespace: "default", Name: "api",
		DesiredReplicas: 3, ReadyReplicas: 1, MissingReplicas: 2,
		Status: "degraded", Severity: "high",
	}}

	svc.autoHeal(context.Background(), conn, workloads)
	svc.autoHeal(context.Background(), conn, workloads)

	actions, err := store.ListAutoActions(conn.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "restart-deployment", actions[0].Action)
	assert.Equal(t, "default/api", actions[0].Target)
	assert.Equal(t, "success", actions[0].Status)
	assert.Contains(t, actions[0].Payload, "under-replicated")

	dep, err := clientset.AppsV1().Deployments("default").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, dep.Spec.Template.Annotations["clusterdeck.io/restartedAt"])
}

func TestAutoHealSkipsLowSeverityAndNonDeployments(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	svc, store := newTestService(t, clientset)
	conn := testConnection()

	svc.autoHeal(context.Background(), conn, []cluster.Workload{
		{Kind: "Deployment", Namespace: "default", Name: "api", MissingReplicas: 1, Severity: "medium"},
		{Kind: "StatefulSet", Namespace: "default", Name: "db", MissingReplicas: 2, Severity: "high"},
	})

	actions, err := store.ListAutoActions(conn.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestAutoHealRecordsFailure(t *testing.T) {
	// no deployment exists, so the restart patch fails
	clientset := fake.NewSimpleClientset()
	svc, store := newTestService(t, clientset)
	conn := testConnection()

	svc.autoHeal(context.Background(), conn, []cluster.Workload{{
		Kind: "Deployment", Namespace: "default", Name: "ghost",
		DesiredReplicas: 3, ReadyReplicas: 0, MissingReplicas: 3,
		Status: "degraded", Severity: "high",
	}})

	actions, err := store.ListAutoActions(conn.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "failed", actions[0].Status)
	assert.Contains(t, actions[0].Payload, "error")
}

func TestLoadCatalogFile(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - provider: aws
    instanceType: m5.large
    cpuHourly: 0.048
    memoryHourly: 0.0052
  - provider: "*"
    instanceType: "*"
    cpuHourly: 0.03
    memoryHourly: 0.004
`), 0o644))

	require.NoError(t, svc.LoadCatalogFile(path))

	entry, err := store.PricingFor("aws", "m5.large")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 0.048, entry.CPUHourly)
}

func TestLoadCatalogFileRejectsBadEntries(t *testing.T) {
	svc, _ := newTestService(t, fake.NewSimpleClientset())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - provider: aws
    cpuHourly: 0.048
`), 0o644))

	err := svc.LoadCatalogFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing provider or instance type")
}

func TestCatalogWatcherReloads(t *testing.T) {
	svc, store := newTestService(t, fake.NewSimpleClientset())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - {provider: aws, instanceType: m5.large, cpuHourly: 0.01, memoryHourly: 0.001}\n"), 0o644))

	watcher, err := NewCatalogWatcher(path, svc)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - {provider: aws, instanceType: m5.large, cpuHourly: 0.02, memoryHourly: 0.002}\n"), 0o644))

	assert.Eventually(t, func() bool {
		entry, err := store.PricingFor("aws", "m5.large")
		return err == nil && entry != nil && entry.CPUHourly == 0.02
	}, 5*time.Second, 50*time.Millisecond)
}

func TestEfficiencyReportEndToEnd(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Status: corev1.NodeStatus{
				Capacity: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("2000m"),
					corev1.ResourceMemory: resource.MustParse("8Gi"),
				},
				Allocatable: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("2000m"),
					corev1.ResourceMemory: resource.MustParse("8Gi"),
				},
			},
		},
	)
	pod := requestingPod("default", "api-0", "node-1", "400m", "512Mi")
	_, err := clientset.CoreV1().Pods("default").Create(context.Background(), &pod, metav1.CreateOptions{})
	require.NoError(t, err)

	svc, store := newTestService(t, clientset)
	conn := testConnection()

	report, err := svc.EfficiencyReport(context.Background(), conn)
	require.NoError(t, err)

	assert.True(t, report.Capacity.Live)
	assert.True(t, report.Cost.Live)
	assert.InDelta(t, 0.20, report.Capacity.CPUUtilization, 0.001)

	stored, err := store.ListInsights(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, insightTitles(report.Insights), insightTitles(stored))

	// a second run replaces, not appends
	_, err = svc.EfficiencyReport(context.Background(), conn)
	require.NoError(t, err)
	again, err := store.ListInsights(conn.ID)
	require.NoError(t, err)
	assert.Len(t, again, len(stored))
}

func insightTitles(insights []storage.OptimizerInsight) []string {
	titles := make([]string, 0, len(insights))
	for _, i := range insights {
		titles = append(titles, i.Title)
	}
	return titles
}
