package cluster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	logTailLines   = 50
	logPodLimit    = 5
	alertMaxCount  = 50
	eventListLimit = 500
)

// ClusterSummary returns the cluster rollup. Node, namespace, and pod
// listings are issued concurrently and joined; on any failure the fixed
// fallback summary is returned.
func (s *Service) ClusterSummary(ctx context.Context, conn *storage.ClusterConnection) ClusterSummary {
	sess, err := s.session(conn)
	if err != nil {
		s.degrade(conn, "summary", err)
		return fallbackSummary(conn)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var (
		version    string
		nodes      *corev1.NodeList
		namespaces *corev1.NamespaceList
		pods       *corev1.PodList
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := sess.Clientset.Discovery().ServerVersion()
		if err != nil {
			return err
		}
		version = info.GitVersion
		return nil
	})
	g.Go(func() (err error) {
		nodes, err = sess.Clientset.CoreV1().Nodes().List(gctx, metav1.ListOptions{})
		return err
	})
	g.Go(func() (err error) {
		namespaces, err = sess.Clientset.CoreV1().Namespaces().List(gctx, metav1.ListOptions{})
		return err
	})
	g.Go(func() (err error) {
		pods, err = sess.Clientset.CoreV1().Pods(metav1.NamespaceAll).List(gctx, metav1.ListOptions{})
		return err
	})
	if err := g.Wait(); err != nil {
		s.degrade(conn, "summary", err)
		return fallbackSummary(conn)
	}

	summary := ClusterSummary{
		ClusterName:       conn.Name,
		KubernetesVersion: version,
		Live:              true,
		NodeCount:         len(nodes.Items),
		NamespaceCount:    len(namespaces.Items),
		PodCount:          len(pods.Items),
	}
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				summary.ReadyNodeCount++
			}
		}
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			summary.RunningPodCount++
		}
	}
	return summary
}

// Workloads returns deployment and statefulset replica health, degraded to
// an empty list on failure.
func (s *Service) Workloads(ctx context.Context, conn *storage.ClusterConnection) []Workload {
	sess, err := s.session(conn)
	if err != nil {
		s.degrade(conn, "workloads", err)
		return fallbackWorkloads()
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	deployments, err := sess.Clientset.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.degrade(conn, "workloads", err)
		return fallbackWorkloads()
	}
	statefulsets, err := sess.Clientset.AppsV1().StatefulSets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.degrade(conn, "workloads", err)
		return fallbackWorkloads()
	}

	workloads := make([]Workload, 0, len(deployments.Items)+len(statefulsets.Items))
	for _, d := range deployments.Items {
		desired := int32(1)
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		workloads = append(workloads, newWorkload("Deployment", d.Namespace, d.Name, desired, d.Status.ReadyReplicas))
	}
	for _, st := range statefulsets.Items {
		desired := int32(1)
		if st.Spec.Replicas != nil {
			desired = *st.Spec.Replicas
		}
		workloads = append(workloads, newWorkload("StatefulSet", st.Namespace, st.Name, desired, st.Status.ReadyReplicas))
	}
	return workloads
}

func newWorkload(kind, namespace, name string, desired, ready int32) Workload {
	missing := desired - ready
	if missing < 0 {
		missing = 0
	}
	status := "healthy"
	if missing > 0 {
		status = "degraded"
	}
	return Workload{
		Kind:            kind,
		Name:            name,
		Namespace:       namespace,
		DesiredReplicas: desired,
		ReadyReplicas:   ready,
		MissingReplicas: missing,
		Status:          status,
		Severity:        workloadSeverity(missing),
	}
}

// Events returns the cluster's current events, degraded to an empty list on
// failure. The listing is capped so a noisy cluster cannot flood a single
// collection cycle.
func (s *Service) Events(ctx context.Context, conn *storage.ClusterConnection) []storage.ClusterEvent {
	sess, err := s.session(conn)
	if err != nil {
		s.degrade(conn, "events", err)
		return fallbackEvents()
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	list, err := sess.Clientset.CoreV1().Events(metav1.NamespaceAll).List(ctx, metav1.ListOptions{Limit: eventListLimit})
	if err != nil {
		s.degrade(conn, "events", err)
		return fallbackEvents()
	}

	events := make([]storage.ClusterEvent, 0, len(list.Items))
	for _, ev := range list.Items {
		events = append(events, eventFromK8s(conn.ID, ev))
	}
	return events
}

func eventFromK8s(connectionID string, ev corev1.Event) storage.ClusterEvent {
	ts := ev.LastTimestamp.Time
	if ts.IsZero() {
		ts = ev.EventTime.Time
	}
	if ts.IsZero() {
		ts = ev.CreationTimestamp.Time
	}
	return storage.ClusterEvent{
		ID:           string(ev.UID),
		ConnectionID: connectionID,
		Type:         ev.Type,
		Reason:       ev.Reason,
		Message:      ev.Message,
		InvolvedObject: storage.InvolvedObject{
			Kind:      ev.InvolvedObject.Kind,
			Name:      ev.InvolvedObject.Name,
			Namespace: ev.InvolvedObject.Namespace,
		},
		Timestamp: ts,
	}
}

// Logs tails recent log lines from a bounded set of pods, degraded to an
// empty list on failure. Per-pod fetch failures skip the pod rather than
// failing the whole read.
func (s *Service) Logs(ctx context.Context, conn *storage.ClusterConnection) []storage.LogEntry {
	sess, err := s.session(conn)
	if err != nil {
		s.degrade(conn, "logs", err)
		return fallbackLogs()
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	pods, err := sess.Clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		Limit: logPodLimit,
	})
	if err != nil {
		s.degrade(conn, "logs", err)
		return fallbackLogs()
	}

	var entries []storage.LogEntry
	for _, pod := range pods.Items {
		container := ""
		if len(pod.Spec.Containers) > 0 {
			container = pod.Spec.Containers[0].Name
		}
		req := sess.Clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			Container:  container,
			TailLines:  ptr.To(int64(logTailLines)),
			Timestamps: true,
		})
		raw, err := req.DoRaw(ctx)
		if err != nil {
			s.logger.Debug("skipping logs for pod %s/%s: %v", pod.Namespace, pod.Name, err)
			continue
		}
		entries = append(entries, parseLogLines(conn.ID, pod.Namespace, pod.Name, container, raw)...)
	}
	return entries
}

// parseLogLines splits raw kubelet log output into entries. Lines carrying
// an RFC3339 prefix (PodLogOptions.Timestamps) keep that timestamp.
func parseLogLines(connectionID, namespace, pod, container string, raw []byte) []storage.LogEntry {
	var entries []storage.LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ts := time.Now()
		message := line
		if idx := strings.IndexByte(line, ' '); idx > 0 {
			if parsed, err := time.Parse(time.RFC3339Nano, line[:idx]); err == nil {
				ts = parsed
				message = line[idx+1:]
			}
		}
		entries = append(entries, storage.LogEntry{
			ConnectionID: connectionID,
			Namespace:    namespace,
			Pod:          pod,
			Container:    container,
			Level:        logLevelFor(message),
			Message:      message,
			LogTimestamp: ts,
		})
	}
	return entries
}

func logLevelFor(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "panic") || strings.Contains(lower, "fatal"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warn"
	default:
		return "info"
	}
}

// Alerts derives operator-facing alerts from the cluster's warning and
// error events, degraded to an empty list on failure.
func (s *Service) Alerts(ctx context.Context, conn *storage.ClusterConnection) []Alert {
	events := s.Events(ctx, conn)
	if len(events) == 0 {
		return fallbackAlerts()
	}

	alerts := make([]Alert, 0, len(events))
	for _, ev := range events {
		if ev.Type == "Normal" {
			continue
		}
		severity := "warning"
		if ev.Type == "Error" {
			severity = "critical"
		}
		alerts = append(alerts, Alert{
			ID:        ev.ID,
			Severity:  severity,
			Title:     ev.Reason,
			Message:   ev.Message,
			Resource:  fmt.Sprintf("%s/%s", ev.InvolvedObject.Kind, ev.InvolvedObject.Name),
			Namespace: ev.InvolvedObject.Namespace,
			Timestamp: ev.Timestamp,
		})
		if len(alerts) >= alertMaxCount {
			break
		}
	}
	return alerts
}

// AuditTrail derives an audit feed from the cluster's events, degraded to
// an empty list on failure.
func (s *Service) AuditTrail(ctx context.Context, conn *storage.ClusterConnection) []AuditRecord {
	sess, err := s.session(conn)
	if err != nil {
		s.degrade(conn, "audit", err)
		return fallbackAudit()
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	list, err := sess.Clientset.CoreV1().Events(metav1.NamespaceAll).List(ctx, metav1.ListOptions{Limit: eventListLimit})
	if err != nil {
		s.degrade(conn, "audit", err)
		return fallbackAudit()
	}

	records := make([]AuditRecord, 0, len(list.Items))
	for _, ev := range list.Items {
		actor := ev.Source.Component
		if actor == "" {
			actor = ev.ReportingController
		}
		event := eventFromK8s(conn.ID, ev)
		records = append(records, AuditRecord{
			ID:        event.ID,
			Actor:     actor,
			Action:    event.Reason,
			Resource:  fmt.Sprintf("%s/%s", event.InvolvedObject.Kind, event.InvolvedObject.Name),
			Namespace: event.InvolvedObject.Namespace,
			Outcome:   event.Type,
			Timestamp: event.Timestamp,
		})
	}
	return records
}

// ListNodes returns the raw node listing for capacity analysis. Unlike the
// degraded reads above it surfaces the error so the optimizer can decide on
// its own fallback shape.
func (s *Service) ListNodes(ctx context.Context, conn *storage.ClusterConnection) ([]corev1.Node, error) {
	sess, err := s.session(conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	list, err := sess.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ListPods returns the raw pod listing for capacity analysis
func (s *Service) ListPods(ctx context.Context, conn *storage.ClusterConnection) ([]corev1.Pod, error) {
	sess, err := s.session(conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	list, err := sess.Clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}
