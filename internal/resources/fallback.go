package resources

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/aaronlmathis/noderes/internal/metrics"
)

// Bound selects which side of a container's resource declaration to read
type Bound string

const (
	Requests Bound = "requests"
	Limits   Bound = "limits"
)

// WorkloadLister lists the pods scheduled on a node
type WorkloadLister interface {
	ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error)
}

// FallbackCalculator recomputes a node's allocated quantity from the declared
// container specs of the workloads scheduled on it. It is only consulted when
// the aggregate value was classified as corrupted.
type FallbackCalculator struct {
	logger *zap.Logger
	lister WorkloadLister
}

// NewFallbackCalculator creates a new fallback calculator
func NewFallbackCalculator(logger *zap.Logger, lister WorkloadLister) *FallbackCalculator {
	return &FallbackCalculator{
		logger: logger,
		lister: lister,
	}
}

// Recompute returns the sum in GiB of every container's declared quantity of
// kind on the node.
func (fc *FallbackCalculator) Recompute(ctx context.Context, nodeName string, kind corev1.ResourceName, bound Bound) (float64, error) {
	pods, err := fc.lister.ListNodePods(ctx, nodeName)
	if err != nil {
		return 0, fmt.Errorf("failed to list workloads on node %s: %w", nodeName, err)
	}

	total := SumDeclared(pods, kind, bound)
	metrics.RecordFallback(string(kind), string(bound))

	fc.logger.Debug("Recomputed quantity from workload specs",
		zap.String("node", nodeName),
		zap.String("resource", string(kind)),
		zap.String("bound", string(bound)),
		zap.Int("pods", len(pods)),
		zap.Float64("gib", total),
	)

	return total, nil
}

// SumDeclared adds up the declared quantity of kind across all containers of
// the given pods. Missing declarations count as 0 and each value goes through
// the suffix conversion only.
func SumDeclared(pods []corev1.Pod, kind corev1.ResourceName, bound Bound) float64 {
	var total float64
	for i := range pods {
		for _, container := range pods[i].Spec.Containers {
			list := container.Resources.Requests
			if bound == Limits {
				list = container.Resources.Limits
			}
			q, ok := list[kind]
			if !ok {
				continue
			}
			total += ConvertSuffixed(q.String())
		}
	}
	return total
}
