package metrics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsapi "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/aaronlmathis/noderes/internal/query"
)

// NodeUsage is one node's entry in the usage snapshot
type NodeUsage struct {
	Name     string  `json:"name"`
	CPUCores float64 `json:"cpuCores"`
	// Memory is the raw quantity as reported, e.g. "3841236Ki"
	Memory    string    `json:"memory"`
	Timestamp time.Time `json:"timestamp"`
}

// APIMetricsAdapter reads actual node usage from the Metrics API (metrics.k8s.io)
type APIMetricsAdapter struct {
	logger           *zap.Logger
	kubeClient       kubernetes.Interface
	metricsClient    metricsv1beta1.MetricsV1beta1Interface
	queries          *query.Client
	hasMetricsAPI    bool
	apiCheckComplete bool
}

// NewAPIMetricsAdapter creates a new API metrics adapter
func NewAPIMetricsAdapter(logger *zap.Logger, kubeClient kubernetes.Interface, metricsClient metricsv1beta1.MetricsV1beta1Interface, queries *query.Client) *APIMetricsAdapter {
	return &APIMetricsAdapter{
		logger:        logger,
		kubeClient:    kubeClient,
		metricsClient: metricsClient,
		queries:       queries,
	}
}

// HasMetricsAPI returns true if the Metrics API (metrics.k8s.io) is available
func (ama *APIMetricsAdapter) HasMetricsAPI(ctx context.Context) bool {
	if ama.apiCheckComplete {
		return ama.hasMetricsAPI
	}

	if ama.metricsClient == nil {
		ama.logger.Info("Metrics API client not configured")
		ama.apiCheckComplete = true
		ama.hasMetricsAPI = false
		return false
	}

	// Check if metrics.k8s.io API group is advertised
	apiGroupList, err := ama.kubeClient.Discovery().ServerGroups()
	if err != nil {
		ama.logger.Warn("Failed to discover API groups", zap.Error(err))
	} else {
		for _, group := range apiGroupList.Groups {
			if group.Name == metricsapi.GroupName {
				ama.hasMetricsAPI = true
				ama.apiCheckComplete = true
				ama.logger.Debug("Metrics API (metrics.k8s.io) detected as available")
				return true
			}
		}
	}

	// Try to make a test call to be sure
	_, err = ama.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		ama.logger.Info("Metrics API not available - metrics-server likely not installed", zap.Error(err))
		ama.hasMetricsAPI = false
	} else {
		ama.logger.Debug("Metrics API confirmed available via test call")
		ama.hasMetricsAPI = true
	}

	ama.apiCheckComplete = true
	return ama.hasMetricsAPI
}

// ListNodeUsage returns the usage snapshot for all nodes, keyed by node name.
// Failure is fatal to the cycle.
func (ama *APIMetricsAdapter) ListNodeUsage(ctx context.Context) (map[string]NodeUsage, error) {
	if ama.metricsClient == nil {
		return nil, fmt.Errorf("metrics client is not configured")
	}

	var nodeMetrics *metricsapi.NodeMetricsList
	op := query.Operation{Name: "list-node-metrics", Kind: query.Batch}
	err := ama.queries.Do(ctx, op, func(ctx context.Context) error {
		var listErr error
		nodeMetrics, listErr = ama.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list node metrics: %w", err)
	}

	usage := make(map[string]NodeUsage, len(nodeMetrics.Items))
	for i := range nodeMetrics.Items {
		u := toNodeUsage(&nodeMetrics.Items[i])
		usage[u.Name] = u

		ama.logger.Debug("Node usage collected",
			zap.String("node", u.Name),
			zap.Float64("cores", u.CPUCores),
			zap.String("memory", u.Memory),
		)
	}

	ama.logger.Debug("Collected usage snapshot",
		zap.Int("nodeCount", len(usage)),
	)

	return usage, nil
}

// GetNodeUsage fetches usage for a single node that was missing from the snapshot
func (ama *APIMetricsAdapter) GetNodeUsage(ctx context.Context, nodeName string) (*NodeUsage, error) {
	if ama.metricsClient == nil {
		return nil, fmt.Errorf("metrics client is not configured")
	}

	var nodeMetric *metricsapi.NodeMetrics
	op := query.Operation{Name: "get-node-metrics", Kind: query.PerNode, Quiet: true}
	err := ama.queries.Do(ctx, op, func(ctx context.Context) error {
		var getErr error
		nodeMetric, getErr = ama.metricsClient.NodeMetricses().Get(ctx, nodeName, metav1.GetOptions{})
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics for node %s: %w", nodeName, err)
	}

	u := toNodeUsage(nodeMetric)
	return &u, nil
}

func toNodeUsage(nodeMetric *metricsapi.NodeMetrics) NodeUsage {
	// Convert nanocores to cores
	nanocores := nodeMetric.Usage.Cpu().ScaledValue(resource.Nano)

	return NodeUsage{
		Name:      nodeMetric.Name,
		CPUCores:  float64(nanocores) / 1e9,
		Memory:    nodeMetric.Usage.Memory().String(),
		Timestamp: nodeMetric.Timestamp.Time,
	}
}
