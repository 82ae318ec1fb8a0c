package optimizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	pressureUtilization      = 0.85
	overprovisionedCPUUtil   = 0.45
	memoryWasteFraction      = 0.25
	failedSchedulingWindowHr = 6
	crashLoopWindowMinutes   = 60
)

// EfficiencyReport bundles the capacity snapshot, the cost estimate, and
// the freshly generated insight snapshot for one connection.
type EfficiencyReport struct {
	ConnectionID string                     `json:"connectionId"`
	Capacity     CapacityReport             `json:"capacity"`
	Cost         CostEstimate               `json:"cost"`
	Insights     []storage.OptimizerInsight `json:"insights"`
}

// EfficiencyReport recomputes the connection's efficiency judgment from
// live capacity, workload health, and recent telemetry, replaces the stored
// insight snapshot, and runs the auto-heal executor over high-severity
// workloads. The report itself never fails; degraded inputs just produce an
// emptier report.
func (s *Service) EfficiencyReport(ctx context.Context, conn *storage.ClusterConnection) (*EfficiencyReport, error) {
	capacity := s.CapacitySnapshot(ctx, conn)
	workloads := s.cluster.Workloads(ctx, conn)

	events, err := s.store.RecentEvents(conn.ID, failedSchedulingWindowHr)
	if err != nil {
		s.logger.Warn("event history unavailable for connection %s: %v", conn.ID, err)
		events = nil
	}
	logs, err := s.store.RecentLogs(conn.ID, crashLoopWindowMinutes)
	if err != nil {
		s.logger.Warn("log history unavailable for connection %s: %v", conn.ID, err)
		logs = nil
	}

	insights := generateInsights(capacity, workloads, events, logs)
	if err := s.store.ReplaceInsights(conn.ID, insights); err != nil {
		return nil, err
	}

	s.autoHeal(ctx, conn, workloads)

	return &EfficiencyReport{
		ConnectionID: conn.ID,
		Capacity:     capacity,
		Cost:         s.estimateCost(capacity),
		Insights:     insights,
	}, nil
}

// generateInsights applies the fixed thresholds to a capacity snapshot plus
// recent telemetry. The returned slice fully replaces the prior snapshot.
func generateInsights(capacity CapacityReport, workloads []cluster.Workload, events []storage.ClusterEvent, logs []storage.LogEntry) []storage.OptimizerInsight {
	var insights []storage.OptimizerInsight
	add := func(severity, title, description, recommendation string) {
		insights = append(insights, storage.OptimizerInsight{
			Severity:       severity,
			Title:          title,
			Description:    description,
			Recommendation: recommendation,
		})
	}

	if capacity.Live {
		if capacity.CPUUtilization >= pressureUtilization {
			add("high", "CPU under pressure",
				fmt.Sprintf("Cluster CPU requests are at %.0f%% of allocatable capacity.", capacity.CPUUtilization*100),
				"Add nodes or reduce CPU requests before scheduling stalls.")
		} else if capacity.CPUUtilization <= overprovisionedCPUUtil {
			add("medium", "CPU overprovisioned",
				fmt.Sprintf("Cluster CPU requests are only %.0f%% of allocatable capacity.", capacity.CPUUtilization*100),
				"Consider consolidating onto fewer or smaller nodes.")
		}

		memWaste := wasteOf(capacity.TotalAllocatableMemoryMiB, capacity.TotalRequestedMemoryMiB)
		if capacity.MemoryUtilization >= pressureUtilization {
			add("high", "Memory under pressure",
				fmt.Sprintf("Cluster memory requests are at %.0f%% of allocatable capacity.", capacity.MemoryUtilization*100),
				"Add memory capacity or lower memory requests.")
		} else if capacity.TotalAllocatableMemoryMiB > 0 &&
			float64(memWaste) > memoryWasteFraction*float64(capacity.TotalAllocatableMemoryMiB) {
			add("medium", "Memory overprovisioned",
				fmt.Sprintf("%d MiB of allocatable memory is not requested by any workload.", memWaste),
				"Right-size memory requests or shrink the node pool.")
		}

		var hot, cold []string
		for _, node := range capacity.Nodes {
			if node.Hot {
				hot = append(hot, node.Name)
			}
			if node.Cold {
				cold = append(cold, node.Name)
			}
		}
		if len(hot) > 0 {
			add("high", "Hot nodes detected",
				fmt.Sprintf("Nodes running close to capacity: %s.", strings.Join(hot, ", ")),
				"Rebalance workloads away from saturated nodes.")
		}
		if len(cold) > 0 {
			add("low", "Cold nodes detected",
				fmt.Sprintf("Nodes with little scheduled work: %s.", strings.Join(cold, ", ")),
				"Cordon and drain cold nodes to cut cost.")
		}

		var pressured []string
		for _, ns := range capacity.Namespaces {
			if ns.UnderPressure {
				pressured = append(pressured, ns.Name)
			}
		}
		if len(pressured) > 0 {
			add("medium", "Namespaces under pressure",
				fmt.Sprintf("Namespaces consuming an outsized share of cluster capacity: %s.", strings.Join(pressured, ", ")),
				"Review resource quotas for these namespaces.")
		}
	}

	for _, w := range workloads {
		if w.MissingReplicas == 0 {
			continue
		}
		severity := "medium"
		if w.Severity == "high" {
			severity = "high"
		}
		add(severity, fmt.Sprintf("Under-replicated %s %s/%s", strings.ToLower(w.Kind), w.Namespace, w.Name),
			fmt.Sprintf("%d of %d desired replicas are ready.", w.ReadyReplicas, w.DesiredReplicas),
			"Inspect pod status and recent rollouts for this workload.")
	}

	failedScheduling := 0
	for _, ev := range events {
		if ev.Reason == "FailedScheduling" {
			failedScheduling++
		}
	}
	if failedScheduling > 0 {
		add("high", "Pods failing to schedule",
			fmt.Sprintf("%d FailedScheduling events in the last %d hours.", failedScheduling, failedSchedulingWindowHr),
			"Check node capacity, taints, and pending pod resource requests.")
	}

	crashLoops := 0
	for _, line := range logs {
		lower := strings.ToLower(line.Message)
		if strings.Contains(lower, "crashloopbackoff") || strings.Contains(lower, "back-off restarting") {
			crashLoops++
		}
	}
	if crashLoops > 0 {
		add("high", "Crash-looping containers",
			fmt.Sprintf("%d crash-loop log lines in the last hour.", crashLoops),
			"Inspect container logs and exit codes for the affected pods.")
	}

	return insights
}
