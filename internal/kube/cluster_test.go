package kube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	ktesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	fakeMetrics "k8s.io/metrics/pkg/client/clientset/versioned/fake"

	"github.com/aaronlmathis/noderes/internal/aggregator"
	"github.com/aaronlmathis/noderes/internal/collector"
	"github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/query"
)

func node(name string, labels map[string]string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Status: corev1.NodeStatus{
			Capacity: corev1.ResourceList{
				corev1.ResourceCPU:              resource.MustParse("4"),
				corev1.ResourceMemory:           resource.MustParse("8Gi"),
				corev1.ResourceEphemeralStorage: resource.MustParse("100Gi"),
			},
			Allocatable: corev1.ResourceList{
				corev1.ResourceCPU:              resource.MustParse("4000m"),
				corev1.ResourceMemory:           resource.MustParse("8Gi"),
				corev1.ResourceEphemeralStorage: resource.MustParse("80Gi"),
			},
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
		},
	}
}

func runningPod(name, nodeName string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: corev1.PodSpec{
			NodeName: nodeName,
			Containers: []corev1.Container{{
				Name: "app",
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("500m"),
						corev1.ResourceMemory: resource.MustParse("1Gi"),
					},
					Limits: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("1"),
						corev1.ResourceMemory: resource.MustParse("2Gi"),
					},
				},
			}},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

func newTestCluster(t *testing.T) *Cluster {
	t.Helper()

	kubeClient := fake.NewSimpleClientset(
		node("worker-1", map[string]string{"node-role.kubernetes.io/worker": ""}),
		node("cp-1", map[string]string{"node-role.kubernetes.io/control-plane": ""}),
		runningPod("web", "worker-1"),
	)

	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, &metricsv1beta1.NodeMetricsList{
			Items: []metricsv1beta1.NodeMetrics{{
				ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
				Usage: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("1"),
					corev1.ResourceMemory: resource.MustParse("2Gi"),
				},
			}},
		}, nil
	})

	kubelet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nodes/worker-1/proxy/stats/summary" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"node":{"nodeName":"worker-1","fs":{"usedBytes":21474836480,"capacityBytes":107374182400}}}`))
	}))
	t.Cleanup(kubelet.Close)

	queries := query.NewClient(zaptest.NewLogger(t), query.Options{
		Attempts:       2,
		InitialBackoff: time.Millisecond,
		Factor:         2,
	})

	return NewCluster(zaptest.NewLogger(t),
		kubeClient,
		metricsClient.MetricsV1beta1(),
		&rest.Config{Host: kubelet.URL},
		false,
		queries,
	)
}

func TestCluster_ListNodes(t *testing.T) {
	cluster := newTestCluster(t)

	workers, err := cluster.ListNodes(context.Background(), metrics.WorkerNodes)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-1", workers[0].Name)

	all, err := cluster.ListNodes(context.Background(), metrics.AllNodes)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCluster_DescribeNode(t *testing.T) {
	cluster := newTestCluster(t)

	report, err := cluster.DescribeNode(context.Background(), "worker-1")
	require.NoError(t, err)

	assert.Equal(t, "500m", report.CPURequests)
	assert.Equal(t, "1Gi", report.MemoryRequests)
	assert.Equal(t, "2Gi", report.MemoryLimits)
	assert.Equal(t, 1, report.PodCount)
}

func TestCluster_FullCycle(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	nodes, err := cluster.ListNodes(ctx, metrics.WorkerNodes)
	require.NoError(t, err)
	usage, err := cluster.UsageSnapshot(ctx)
	require.NoError(t, err)

	coll := collector.New(zaptest.NewLogger(t), cluster, collector.Options{Concurrency: 2})
	result := aggregator.Aggregate(coll.CollectAll(ctx, &collector.Snapshot{Nodes: nodes, Usage: usage}),
		aggregator.Options{Field: aggregator.DefaultSortBy})

	require.Len(t, result.Nodes, 1)
	rec := result.Nodes[0]
	assert.Equal(t, "worker-1", rec.Name)
	assert.False(t, rec.Degraded)

	assert.InDelta(t, 4.0, rec.CPUCapacity, 1e-9)
	assert.InDelta(t, 0.5, rec.CPURequested, 1e-9)
	assert.InDelta(t, 1.0, rec.CPULimited, 1e-9)
	assert.InDelta(t, 1.0, rec.CPUUsed, 1e-9)
	assert.InDelta(t, 12.5, rec.CPUReqPct, 1e-9)
	assert.InDelta(t, 25.0, rec.CPUUsePct, 1e-9)

	assert.InDelta(t, 8.0, rec.MemCapacity, 1e-9)
	assert.InDelta(t, 1.0, rec.MemRequested, 1e-9)
	assert.InDelta(t, 2.0, rec.MemUsed, 1e-9)
	assert.InDelta(t, 25.0, rec.MemUsePct, 1e-9)

	assert.InDelta(t, 20.0, rec.DiskUsed, 1e-9)
	assert.InDelta(t, 100.0, rec.DiskCapacity, 1e-9)
	assert.InDelta(t, 20.0, rec.DiskUsePct, 1e-9)

	assert.Equal(t, 1, rec.PodsTotal)
	assert.Equal(t, 1, rec.PodsReady)
	assert.Equal(t, 1, result.Totals.NodeCount)
}
