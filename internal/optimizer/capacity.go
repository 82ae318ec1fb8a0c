package optimizer

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	hotNodeThreshold       = 0.75
	coldNodeThreshold      = 0.30
	namespacePressureShare = 0.25
)

// NodeCapacity is the per-node rollup of allocatable capacity versus
// scheduled requests. CPU is in millicores, memory in mebibytes.
type NodeCapacity struct {
	Name                 string  `json:"name"`
	Provider             string  `json:"provider"`
	InstanceType         string  `json:"instanceType"`
	CapacityCPUMillis    int64   `json:"capacityCpuMillis"`
	CapacityMemoryMiB    int64   `json:"capacityMemoryMiB"`
	AllocatableCPUMillis int64   `json:"allocatableCpuMillis"`
	AllocatableMemoryMiB int64   `json:"allocatableMemoryMiB"`
	RequestedCPUMillis   int64   `json:"requestedCpuMillis"`
	RequestedMemoryMiB   int64   `json:"requestedMemoryMiB"`
	CPUUtilization       float64 `json:"cpuUtilization"`
	MemoryUtilization    float64 `json:"memoryUtilization"`
	Hot                  bool    `json:"hot"`
	Cold                 bool    `json:"cold"`
}

// NamespaceUsage is the per-namespace rollup of scheduled requests
type NamespaceUsage struct {
	Name               string  `json:"name"`
	PodCount           int     `json:"podCount"`
	RequestedCPUMillis int64   `json:"requestedCpuMillis"`
	RequestedMemoryMiB int64   `json:"requestedMemoryMiB"`
	CPUShare           float64 `json:"cpuShare"`
	MemoryShare        float64 `json:"memoryShare"`
	UnderPressure      bool    `json:"underPressure"`
}

// CapacityReport is the cluster-wide capacity snapshot
type CapacityReport struct {
	Live                      bool             `json:"live"`
	TotalAllocatableCPUMillis int64            `json:"totalAllocatableCpuMillis"`
	TotalAllocatableMemoryMiB int64            `json:"totalAllocatableMemoryMiB"`
	TotalRequestedCPUMillis   int64            `json:"totalRequestedCpuMillis"`
	TotalRequestedMemoryMiB   int64            `json:"totalRequestedMemoryMiB"`
	CPUUtilization            float64          `json:"cpuUtilization"`
	MemoryUtilization         float64          `json:"memoryUtilization"`
	Nodes                     []NodeCapacity   `json:"nodes"`
	Namespaces                []NamespaceUsage `json:"namespaces"`
}

func fallbackCapacityReport() CapacityReport {
	return CapacityReport{
		Nodes:      []NodeCapacity{},
		Namespaces: []NamespaceUsage{},
	}
}

// CapacitySnapshot sums per-node allocatable/capacity and per-pod resource
// requests into node and namespace rollups. Node and pod listings are
// fetched concurrently; any failure degrades to the fixed fallback snapshot.
func (s *Service) CapacitySnapshot(ctx context.Context, conn *storage.ClusterConnection) CapacityReport {
	var (
		nodes []corev1.Node
		pods  []corev1.Pod
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		nodes, err = s.cluster.ListNodes(gctx, conn)
		return err
	})
	g.Go(func() (err error) {
		pods, err = s.cluster.ListPods(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		s.metrics.ObserveDegradedRead("capacity")
		s.logger.Warn("capacity snapshot degraded to fallback for connection %s: %v", conn.ID, err)
		return fallbackCapacityReport()
	}

	return buildCapacityReport(nodes, pods)
}

func buildCapacityReport(nodes []corev1.Node, pods []corev1.Pod) CapacityReport {
	report := CapacityReport{
		Live:       true,
		Nodes:      make([]NodeCapacity, 0, len(nodes)),
		Namespaces: []NamespaceUsage{},
	}

	nodeIndex := make(map[string]int, len(nodes))
	for _, node := range nodes {
		nc := NodeCapacity{
			Name:                 node.Name,
			Provider:             nodeProvider(node),
			InstanceType:         nodeInstanceType(node),
			CapacityCPUMillis:    cpuMillis(node.Status.Capacity),
			CapacityMemoryMiB:    memoryMiB(node.Status.Capacity),
			AllocatableCPUMillis: cpuMillis(node.Status.Allocatable),
			AllocatableMemoryMiB: memoryMiB(node.Status.Allocatable),
		}
		nodeIndex[node.Name] = len(report.Nodes)
		report.Nodes = append(report.Nodes, nc)
		report.TotalAllocatableCPUMillis += nc.AllocatableCPUMillis
		report.TotalAllocatableMemoryMiB += nc.AllocatableMemoryMiB
	}

	nsUsage := make(map[string]*NamespaceUsage)
	for _, pod := range pods {
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		cpu, mem := podEffectiveRequests(pod)
		report.TotalRequestedCPUMillis += cpu
		report.TotalRequestedMemoryMiB += mem

		if idx, ok := nodeIndex[pod.Spec.NodeName]; ok {
			report.Nodes[idx].RequestedCPUMillis += cpu
			report.Nodes[idx].RequestedMemoryMiB += mem
		}

		usage, ok := nsUsage[pod.Namespace]
		if !ok {
			usage = &NamespaceUsage{Name: pod.Namespace}
			nsUsage[pod.Namespace] = usage
		}
		usage.PodCount++
		usage.RequestedCPUMillis += cpu
		usage.RequestedMemoryMiB += mem
	}

	for i := range report.Nodes {
		nc := &report.Nodes[i]
		nc.CPUUtilization = ratio(nc.RequestedCPUMillis, nc.AllocatableCPUMillis)
		nc.MemoryUtilization = ratio(nc.RequestedMemoryMiB, nc.AllocatableMemoryMiB)
		peak := nc.CPUUtilization
		if nc.MemoryUtilization > peak {
			peak = nc.MemoryUtilization
		}
		nc.Hot = peak >= hotNodeThreshold
		nc.Cold = peak <= coldNodeThreshold
	}

	for _, usage := range nsUsage {
		usage.CPUShare = ratio(usage.RequestedCPUMillis, report.TotalAllocatableCPUMillis)
		usage.MemoryShare = ratio(usage.RequestedMemoryMiB, report.TotalAllocatableMemoryMiB)
		usage.UnderPressure = usage.CPUShare >= namespacePressureShare || usage.MemoryShare >= namespacePressureShare
		report.Namespaces = append(report.Namespaces, *usage)
	}
	sort.Slice(report.Namespaces, func(i, j int) bool {
		return report.Namespaces[i].Name < report.Namespaces[j].Name
	})

	report.CPUUtilization = ratio(report.TotalRequestedCPUMillis, report.TotalAllocatableCPUMillis)
	report.MemoryUtilization = ratio(report.TotalRequestedMemoryMiB, report.TotalAllocatableMemoryMiB)
	return report
}

// podEffectiveRequests computes a pod's effective resource request: the max
// of the app-container sum and the largest single init container. Init
// containers run sequentially, so their peak, not their total, competes
// with steady-state containers.
func podEffectiveRequests(pod corev1.Pod) (cpuMillisTotal, memoryMiBTotal int64) {
	var appCPU, appMem int64
	for _, c := range pod.Spec.Containers {
		appCPU += requestCPUMillis(c)
		appMem += requestMemoryMiB(c)
	}
	var initCPU, initMem int64
	for _, c := range pod.Spec.InitContainers {
		if v := requestCPUMillis(c); v > initCPU {
			initCPU = v
		}
		if v := requestMemoryMiB(c); v > initMem {
			initMem = v
		}
	}
	cpuMillisTotal = appCPU
	if initCPU > cpuMillisTotal {
		cpuMillisTotal = initCPU
	}
	memoryMiBTotal = appMem
	if initMem > memoryMiBTotal {
		memoryMiBTotal = initMem
	}
	return cpuMillisTotal, memoryMiBTotal
}

func requestCPUMillis(c corev1.Container) int64 {
	if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
		return q.MilliValue()
	}
	return 0
}

func requestMemoryMiB(c corev1.Container) int64 {
	if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
		return q.Value() / (1 << 20)
	}
	return 0
}

func cpuMillis(list corev1.ResourceList) int64 {
	if q, ok := list[corev1.ResourceCPU]; ok {
		return q.MilliValue()
	}
	return 0
}

func memoryMiB(list corev1.ResourceList) int64 {
	if q, ok := list[corev1.ResourceMemory]; ok {
		return q.Value() / (1 << 20)
	}
	return 0
}

func ratio(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total)
}
