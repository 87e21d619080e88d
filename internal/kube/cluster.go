package kube

import (
	"context"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/aaronlmathis/noderes/internal/kube/allocation"
	"github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/query"
)

// Cluster is the read-only view of the cluster used by one collection cycle.
// Batch queries are ListNodes and UsageSnapshot; everything else is per node.
type Cluster struct {
	nodes      *metrics.NodesAdapter
	usage      *metrics.APIMetricsAdapter
	summary    *metrics.SummaryStatsAdapter
	allocation *allocation.Service
}

// NewCluster wires the cluster adapters around a shared query client
func NewCluster(
	logger *zap.Logger,
	kubeClient kubernetes.Interface,
	metricsClient metricsv1beta1.MetricsV1beta1Interface,
	restConfig *rest.Config,
	kubeletInsecureTLS bool,
	queries *query.Client,
) *Cluster {
	return &Cluster{
		nodes:      metrics.NewNodesAdapter(logger.Named("nodes"), kubeClient, queries),
		usage:      metrics.NewAPIMetricsAdapter(logger.Named("usage"), kubeClient, metricsClient, queries),
		summary:    metrics.NewSummaryStatsAdapter(logger.Named("summary"), restConfig, kubeletInsecureTLS, queries),
		allocation: allocation.NewService(logger.Named("allocation"), kubeClient, queries),
	}
}

// HasMetricsAPI reports whether the usage source is reachable
func (c *Cluster) HasMetricsAPI(ctx context.Context) bool {
	return c.usage.HasMetricsAPI(ctx)
}

// ListNodes returns the nodes selected by filter
func (c *Cluster) ListNodes(ctx context.Context, filter metrics.NodeFilter) ([]corev1.Node, error) {
	return c.nodes.ListNodes(ctx, filter)
}

// UsageSnapshot returns the batch usage sample keyed by node name
func (c *Cluster) UsageSnapshot(ctx context.Context) (map[string]metrics.NodeUsage, error) {
	return c.usage.ListNodeUsage(ctx)
}

// NodeUsage fetches usage for one node missing from the snapshot
func (c *Cluster) NodeUsage(ctx context.Context, nodeName string) (*metrics.NodeUsage, error) {
	return c.usage.GetNodeUsage(ctx, nodeName)
}

// NodeFilesystem returns the live filesystem sample of a node
func (c *Cluster) NodeFilesystem(ctx context.Context, nodeName string) (*metrics.FilesystemStats, error) {
	return c.summary.GetNodeFilesystem(ctx, nodeName)
}

// DescribeNode returns the aggregate allocation report of a node
func (c *Cluster) DescribeNode(ctx context.Context, nodeName string) (*allocation.Report, error) {
	return c.allocation.DescribeNode(ctx, nodeName)
}

// ListNodePods returns every pod scheduled on a node
func (c *Cluster) ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	return c.allocation.ListNodePods(ctx, nodeName)
}
