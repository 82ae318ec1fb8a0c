package optimizer

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Hard-coded last-resort pricing, used only when the catalog has no
// matching tier at all. CPU is per core-hour, memory per GiB-hour.
const (
	defaultCPUHourly    = 0.0335
	defaultMemoryHourly = 0.0045

	hoursPerMonth = 24 * 30
)

// CostEstimate prices the cluster's allocatable capacity and its waste
type CostEstimate struct {
	Live                    bool    `json:"live"`
	MonthlyCost             float64 `json:"monthlyCost"`
	PotentialMonthlySavings float64 `json:"potentialMonthlySavings"`
}

// resolvePricing returns hourly CPU/memory pricing for a node through the
// in-memory cache backed by the catalog's three-tier fallback chain, with
// the hard-coded defaults as the final tier.
func (s *Service) resolvePricing(provider, instanceType string) (float64, float64) {
	key := provider + "/" + instanceType
	if entry, ok := s.pricing.Get(key); ok {
		return entry.CPUHourly, entry.MemoryHourly
	}

	entry, err := s.store.PricingFor(provider, instanceType)
	if err != nil {
		s.logger.Warn("pricing lookup failed for %s: %v", key, err)
		return defaultCPUHourly, defaultMemoryHourly
	}
	if entry == nil {
		entry = &storage.NodePricingEntry{
			Provider:     provider,
			InstanceType: instanceType,
			CPUHourly:    defaultCPUHourly,
			MemoryHourly: defaultMemoryHourly,
		}
	}
	s.pricing.Add(key, *entry)
	return entry.CPUHourly, entry.MemoryHourly
}

// PurgePricingCache drops all cached pricing entries, forcing the next
// lookups back to the catalog. Called after a catalog reload.
func (s *Service) PurgePricingCache() {
	s.pricing.Purge()
}

// estimateCost prices each live node and its waste (allocatable minus
// requested, floored at zero). When no live nodes were retrievable it falls
// back to an aggregate estimate from the snapshot totals using only the
// global default price.
func (s *Service) estimateCost(capacity CapacityReport) CostEstimate {
	if len(capacity.Nodes) == 0 {
		return CostEstimate{
			Live:                    false,
			MonthlyCost:             monthlyPrice(capacity.TotalAllocatableCPUMillis, capacity.TotalAllocatableMemoryMiB, defaultCPUHourly, defaultMemoryHourly),
			PotentialMonthlySavings: monthlyPrice(wasteOf(capacity.TotalAllocatableCPUMillis, capacity.TotalRequestedCPUMillis), wasteOf(capacity.TotalAllocatableMemoryMiB, capacity.TotalRequestedMemoryMiB), defaultCPUHourly, defaultMemoryHourly),
		}
	}

	estimate := CostEstimate{Live: true}
	for _, node := range capacity.Nodes {
		cpuHourly, memHourly := s.resolvePricing(node.Provider, node.InstanceType)
		estimate.MonthlyCost += monthlyPrice(node.AllocatableCPUMillis, node.AllocatableMemoryMiB, cpuHourly, memHourly)
		estimate.PotentialMonthlySavings += monthlyPrice(
			wasteOf(node.AllocatableCPUMillis, node.RequestedCPUMillis),
			wasteOf(node.AllocatableMemoryMiB, node.RequestedMemoryMiB),
			cpuHourly, memHourly)
	}
	return estimate
}

func monthlyPrice(cpuMillis, memoryMiB int64, cpuHourly, memHourly float64) float64 {
	cores := float64(cpuMillis) / 1000.0
	gib := float64(memoryMiB) / 1024.0
	return (cores*cpuHourly + gib*memHourly) * hoursPerMonth
}

func wasteOf(allocatable, requested int64) int64 {
	waste := allocatable - requested
	if waste < 0 {
		return 0
	}
	return waste
}

// nodeProvider derives the provider from the node's providerID
// ("aws:///us-east-1a/i-0abc" yields "aws"), falling back to "unknown".
func nodeProvider(node corev1.Node) string {
	if id := node.Spec.ProviderID; id != "" {
		if idx := strings.Index(id, "://"); idx > 0 {
			return id[:idx]
		}
	}
	return "unknown"
}

// nodeInstanceType reads the stable instance-type label with a fallback to
// the deprecated beta label still set by older kubelets.
func nodeInstanceType(node corev1.Node) string {
	if t := node.Labels[corev1.LabelInstanceTypeStable]; t != "" {
		return t
	}
	if t := node.Labels["beta.kubernetes.io/instance-type"]; t != "" {
		return t
	}
	return "unknown"
}
