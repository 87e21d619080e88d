package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/aaronlmathis/noderes/internal/kube/allocation"
	kubemetrics "github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/metrics"
	"github.com/aaronlmathis/noderes/internal/report"
	"github.com/aaronlmathis/noderes/internal/resources"
)

// Source provides the per-node queries a collector issues
type Source interface {
	DescribeNode(ctx context.Context, nodeName string) (*allocation.Report, error)
	ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error)
	NodeUsage(ctx context.Context, nodeName string) (*kubemetrics.NodeUsage, error)
	NodeFilesystem(ctx context.Context, nodeName string) (*kubemetrics.FilesystemStats, error)
}

// Snapshot is the batch data fetched once per cycle and shared read-only by all workers
type Snapshot struct {
	Nodes []corev1.Node
	Usage map[string]kubemetrics.NodeUsage
}

// Options configures a collector
type Options struct {
	// DetailedConditions enables pressure condition reporting
	DetailedConditions bool
	// Concurrency is the width of the worker pool
	Concurrency int
}

// Collector turns one node's snapshot data into a canonical NodeRecord
type Collector struct {
	logger *zap.Logger
	source Source
	opts   Options
}

// New creates a new collector
func New(logger *zap.Logger, source Source, opts Options) *Collector {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Collector{
		logger: logger,
		source: source,
		opts:   opts,
	}
}

// Collect gathers the record for a single node. Per-node query failures zero
// the affected fields and mark the record degraded; if nothing could be
// gathered the node is reported as Unknown.
func (c *Collector) Collect(ctx context.Context, node *corev1.Node, snap *Snapshot) report.NodeRecord {
	name := node.Name
	logger := c.logger.With(zap.String("node", name))
	workloads := &podMemo{source: c.source, nodeName: name}
	fallback := resources.NewFallbackCalculator(logger, workloads)

	record := report.NodeRecord{
		Name:   name,
		Health: ResolveHealth(node, c.opts.DetailedConditions),
	}

	record.CPUCapacity = resources.Round3(resources.NormalizeCPU(quantity(node.Status.Allocatable, corev1.ResourceCPU)))
	record.MemCapacity = resources.Round1(memoryCapacity(node))
	record.DiskCapacity = resources.Round1(diskCapacity(node))

	failures := 0

	alloc, err := c.source.DescribeNode(ctx, name)
	if err != nil {
		failures++
		record.Degraded = true
	} else {
		record.CPURequested = resources.Round3(resources.NormalizeCPU(alloc.CPURequests))
		record.CPULimited = resources.Round3(resources.NormalizeCPU(alloc.CPULimits))
		record.MemRequested = resources.Round1(c.allocated(ctx, logger, fallback, &record, name, corev1.ResourceMemory, resources.Requests, alloc.MemoryRequests))
		record.MemLimited = resources.Round1(c.allocated(ctx, logger, fallback, &record, name, corev1.ResourceMemory, resources.Limits, alloc.MemoryLimits))
		record.DiskRequested = resources.Round1(c.allocated(ctx, logger, fallback, &record, name, corev1.ResourceEphemeralStorage, resources.Requests, alloc.EphemeralRequests))
	}

	record.DiskUsed = resources.Round1(c.diskUsed(ctx, logger, &record, node))

	usage, ok := snap.Usage[name]
	if !ok {
		logger.Debug("Node missing from usage snapshot, querying directly")
		single, err := c.source.NodeUsage(ctx, name)
		if err != nil {
			failures++
			record.Degraded = true
		} else {
			usage, ok = *single, true
		}
	}
	if ok {
		record.CPUUsed = resources.Round3(usage.CPUCores)
		memUsed, err := resources.NormalizeMemory(usage.Memory)
		if err != nil {
			metrics.RecordCorruptedQuantity(string(corev1.ResourceMemory), "usage")
			logger.Debug("Discarding corrupted memory usage", zap.String("raw", usage.Memory))
			memUsed = 0
		}
		record.MemUsed = resources.Round1(memUsed)
	}

	pods, err := workloads.ListNodePods(ctx, name)
	if err != nil {
		failures++
		record.Degraded = true
	} else {
		record.PodsTotal, record.PodsReady = countPods(pods)
	}

	if failures == 3 {
		logger.Warn("No data available for node, reporting as Unknown")
		metrics.RecordDegradedNode()
		return report.UnknownRecord(name)
	}

	record.CPUUsePct = resources.Percent(record.CPUUsed, record.CPUCapacity)
	record.MemUsePct = resources.Percent(record.MemUsed, record.MemCapacity)
	record.DiskUsePct = resources.Percent(record.DiskUsed, record.DiskCapacity)

	if record.Degraded {
		metrics.RecordDegradedNode()
	}
	return record
}

// allocated normalizes an aggregate allocation value, recomputing it from the
// node's workloads when the encoding is corrupted. A valid zero is kept as is.
func (c *Collector) allocated(
	ctx context.Context,
	logger *zap.Logger,
	fallback *resources.FallbackCalculator,
	record *report.NodeRecord,
	nodeName string,
	kind corev1.ResourceName,
	bound resources.Bound,
	raw string,
) float64 {
	value, err := resources.NormalizeMemory(raw)
	if err == nil {
		return value
	}

	metrics.RecordCorruptedQuantity(string(kind), string(bound))
	logger.Debug("Corrupted allocation quantity, recomputing from workloads",
		zap.String("resource", string(kind)),
		zap.String("bound", string(bound)),
		zap.String("raw", raw),
	)

	value, err = fallback.Recompute(ctx, nodeName, kind, bound)
	if err != nil {
		logger.Debug("Fallback recomputation failed", zap.Error(err))
		record.Degraded = true
		return 0
	}
	return value
}

// diskUsed prefers the kubelet's live filesystem sample and otherwise derives
// usage from the gap between capacity and allocatable. A corrupted capacity or
// allocatable yields 0 and marks the record degraded.
func (c *Collector) diskUsed(ctx context.Context, logger *zap.Logger, record *report.NodeRecord, node *corev1.Node) float64 {
	fs, err := c.source.NodeFilesystem(ctx, node.Name)
	if err == nil {
		if used, err := resources.NormalizeMemory(fs.UsedQuantity()); err == nil {
			return used
		}
	}

	for bound, list := range map[string]corev1.ResourceList{
		"capacity":    node.Status.Capacity,
		"allocatable": node.Status.Allocatable,
	} {
		raw := quantity(list, corev1.ResourceEphemeralStorage)
		if _, err := resources.NormalizeMemory(raw); err != nil {
			metrics.RecordCorruptedQuantity(string(corev1.ResourceEphemeralStorage), bound)
			logger.Debug("Corrupted ephemeral storage, disk usage not derived",
				zap.String("bound", bound),
				zap.String("raw", raw),
			)
			record.Degraded = true
			return 0
		}
	}

	capacity := diskCapacity(node)
	allocatable, _ := resources.NormalizeMemory(quantity(node.Status.Allocatable, corev1.ResourceEphemeralStorage))
	used := DeriveDiskUsed(capacity, allocatable)
	logger.Debug("Derived disk usage from capacity and allocatable",
		zap.Float64("capacityGiB", capacity),
		zap.Float64("allocatableGiB", allocatable),
		zap.Float64("usedGiB", used),
	)
	return used
}

// DeriveDiskUsed returns capacity minus allocatable, clamped at zero. An
// allocatable larger than capacity means the two fields were reported in
// different units, so allocatable is scaled down by 1024 until it fits.
func DeriveDiskUsed(capacity, allocatable float64) float64 {
	for i := 0; i < 3 && allocatable > capacity && capacity > 0; i++ {
		allocatable /= 1024
	}
	if used := capacity - allocatable; used > 0 {
		return used
	}
	return 0
}

// ResolveHealth derives readiness from the Ready condition and, when detailed
// is set, the active pressure conditions.
func ResolveHealth(node *corev1.Node, detailed bool) report.Health {
	health := report.Health{Status: report.StatusUnknown}
	for _, cond := range node.Status.Conditions {
		if cond.Type != corev1.NodeReady {
			continue
		}
		switch cond.Status {
		case corev1.ConditionTrue:
			health.Status = report.StatusReady
		case corev1.ConditionFalse:
			health.Status = report.StatusNotReady
		}
	}

	if !detailed {
		return health
	}

	pressures := []struct {
		condition corev1.NodeConditionType
		pressure  report.Pressure
	}{
		{corev1.NodeMemoryPressure, report.MemoryPressure},
		{corev1.NodeDiskPressure, report.DiskPressure},
		{corev1.NodePIDPressure, report.PIDPressure},
		{corev1.NodeNetworkUnavailable, report.NetworkUnavailable},
	}
	for _, p := range pressures {
		if conditionTrue(node.Status.Conditions, p.condition) {
			health.Pressures = append(health.Pressures, p.pressure)
		}
	}
	return health
}

func conditionTrue(conditions []corev1.NodeCondition, condType corev1.NodeConditionType) bool {
	for _, cond := range conditions {
		if cond.Type == condType {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func memoryCapacity(node *corev1.Node) float64 {
	value, err := resources.NormalizeMemory(quantity(node.Status.Allocatable, corev1.ResourceMemory))
	if err == nil && value > 0 {
		return value
	}
	value, err = resources.NormalizeMemory(quantity(node.Status.Capacity, corev1.ResourceMemory))
	if err != nil {
		return 0
	}
	return value
}

// diskCapacity reads the raw ephemeral storage capacity, falling back to allocatable
func diskCapacity(node *corev1.Node) float64 {
	value, err := resources.NormalizeMemory(quantity(node.Status.Capacity, corev1.ResourceEphemeralStorage))
	if err == nil && value > 0 {
		return value
	}
	value, err = resources.NormalizeMemory(quantity(node.Status.Allocatable, corev1.ResourceEphemeralStorage))
	if err != nil {
		return 0
	}
	return value
}

func quantity(list corev1.ResourceList, name corev1.ResourceName) string {
	if q, ok := list[name]; ok {
		return q.String()
	}
	return ""
}

// countPods returns the number of pods and how many of them report Ready
func countPods(pods []corev1.Pod) (total, ready int) {
	for i := range pods {
		total++
		for _, cond := range pods[i].Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				ready++
				break
			}
		}
	}
	return total, ready
}

// podMemo lists a node's pods at most once per collection so pod counting
// and fallback recomputation share one query.
type podMemo struct {
	source   Source
	nodeName string

	done bool
	pods []corev1.Pod
	err  error
}

func (m *podMemo) ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	if nodeName != m.nodeName {
		return nil, fmt.Errorf("pod listing is scoped to node %s, not %s", m.nodeName, nodeName)
	}
	if !m.done {
		m.pods, m.err = m.source.ListNodePods(ctx, nodeName)
		m.done = true
	}
	return m.pods, m.err
}
