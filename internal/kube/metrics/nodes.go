package metrics

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	"k8s.io/client-go/kubernetes"

	"github.com/aaronlmathis/noderes/internal/query"
)

// NodeFilter selects which nodes are reported
type NodeFilter string

const (
	// AllNodes reports every node in the cluster
	AllNodes NodeFilter = "all"
	// WorkerNodes excludes nodes labelled with a control-plane role
	WorkerNodes NodeFilter = "workers"
)

// ParseNodeFilter validates a node filter name
func ParseNodeFilter(s string) (NodeFilter, error) {
	switch f := NodeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case AllNodes, WorkerNodes:
		return f, nil
	}
	return "", fmt.Errorf("invalid node filter %q (valid: all, workers)", s)
}

// Role labels that mark a control-plane node
var controlPlaneRoleLabels = []string{
	"node-role.kubernetes.io/control-plane",
	"node-role.kubernetes.io/master",
}

// NodesAdapter lists the nodes of the cluster in one batch query
type NodesAdapter struct {
	logger     *zap.Logger
	kubeClient kubernetes.Interface
	queries    *query.Client
}

// NewNodesAdapter creates a new nodes adapter
func NewNodesAdapter(logger *zap.Logger, kubeClient kubernetes.Interface, queries *query.Client) *NodesAdapter {
	return &NodesAdapter{
		logger:     logger,
		kubeClient: kubeClient,
		queries:    queries,
	}
}

// ListNodes returns the nodes matching filter. Failure is fatal to the cycle.
func (na *NodesAdapter) ListNodes(ctx context.Context, filter NodeFilter) ([]corev1.Node, error) {
	selector, err := NodeSelector(filter)
	if err != nil {
		return nil, err
	}

	var nodes *corev1.NodeList
	op := query.Operation{Name: "list-nodes", Kind: query.Batch}
	err = na.queries.Do(ctx, op, func(ctx context.Context) error {
		var listErr error
		nodes, listErr = na.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{
			LabelSelector: selector.String(),
		})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	// The selector is re-applied locally so that clients which ignore label
	// selectors still get a filtered list.
	result := make([]corev1.Node, 0, len(nodes.Items))
	for _, node := range nodes.Items {
		if selector.Matches(labels.Set(node.Labels)) {
			result = append(result, node)
		}
	}

	na.logger.Debug("Listed nodes",
		zap.String("filter", string(filter)),
		zap.Int("nodeCount", len(result)),
	)

	return result, nil
}

// NodeSelector builds the label selector for a node filter
func NodeSelector(filter NodeFilter) (labels.Selector, error) {
	switch filter {
	case AllNodes:
		return labels.Everything(), nil
	case WorkerNodes, "":
		selector := labels.NewSelector()
		for _, key := range controlPlaneRoleLabels {
			req, err := labels.NewRequirement(key, selection.DoesNotExist, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to build node selector: %w", err)
			}
			selector = selector.Add(*req)
		}
		return selector, nil
	default:
		return nil, fmt.Errorf("unsupported node filter: %s", filter)
	}
}
