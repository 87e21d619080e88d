package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	fakeMetrics "k8s.io/metrics/pkg/client/clientset/versioned/fake"

	"github.com/aaronlmathis/noderes/internal/query"
)

func nodeMetrics(name, cpu, memory string) metricsv1beta1.NodeMetrics {
	return metricsv1beta1.NodeMetrics{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Usage: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpu),
			corev1.ResourceMemory: resource.MustParse(memory),
		},
	}
}

func TestAPIMetricsAdapter_HasMetricsAPI(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name      string
		hasClient bool
		expected  bool
	}{
		{
			name:      "metrics API available",
			hasClient: true,
			expected:  true,
		},
		{
			name:      "metrics API not available",
			hasClient: false,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kubeClient := fake.NewSimpleClientset()

			var adapter *APIMetricsAdapter
			if tt.hasClient {
				metricsClient := fakeMetrics.NewSimpleClientset()
				adapter = NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1(), testQueries(t))
			} else {
				adapter = NewAPIMetricsAdapter(logger, kubeClient, nil, testQueries(t))
			}

			result := adapter.HasMetricsAPI(context.Background())
			assert.Equal(t, tt.expected, result)

			// Test that subsequent calls return cached result
			result2 := adapter.HasMetricsAPI(context.Background())
			assert.Equal(t, tt.expected, result2)
		})
	}
}

func TestAPIMetricsAdapter_HasMetricsAPI_ServerMissing(t *testing.T) {
	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.NewNotFound(metricsv1beta1.Resource("nodes"), "")
	})

	adapter := NewAPIMetricsAdapter(zaptest.NewLogger(t), fake.NewSimpleClientset(), metricsClient.MetricsV1beta1(), testQueries(t))

	assert.False(t, adapter.HasMetricsAPI(context.Background()))
}

func TestAPIMetricsAdapter_ListNodeUsage(t *testing.T) {
	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, &metricsv1beta1.NodeMetricsList{
			Items: []metricsv1beta1.NodeMetrics{
				nodeMetrics("node-1", "1500m", "2Gi"),
				nodeMetrics("node-2", "250000000n", "524288Ki"),
			},
		}, nil
	})

	adapter := NewAPIMetricsAdapter(zaptest.NewLogger(t), fake.NewSimpleClientset(), metricsClient.MetricsV1beta1(), testQueries(t))

	usage, err := adapter.ListNodeUsage(context.Background())

	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.InDelta(t, 1.5, usage["node-1"].CPUCores, 1e-9)
	assert.Equal(t, "2Gi", usage["node-1"].Memory)
	assert.InDelta(t, 0.25, usage["node-2"].CPUCores, 1e-9)
	assert.Equal(t, "512Mi", usage["node-2"].Memory)
}

func TestAPIMetricsAdapter_ListNodeUsage_Error(t *testing.T) {
	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, assert.AnError
	})

	adapter := NewAPIMetricsAdapter(zaptest.NewLogger(t), fake.NewSimpleClientset(), metricsClient.MetricsV1beta1(), testQueries(t))

	usage, err := adapter.ListNodeUsage(context.Background())

	assert.Nil(t, usage)
	assert.ErrorIs(t, err, query.ErrBatchFailed)
}

func TestAPIMetricsAdapter_ListNodeUsage_NoClient(t *testing.T) {
	adapter := NewAPIMetricsAdapter(zaptest.NewLogger(t), fake.NewSimpleClientset(), nil, testQueries(t))

	_, err := adapter.ListNodeUsage(context.Background())

	assert.Error(t, err)
}

func TestAPIMetricsAdapter_GetNodeUsage(t *testing.T) {
	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("get", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		name := action.(ktesting.GetAction).GetName()
		if name != "node-3" {
			return true, nil, errors.NewNotFound(metricsv1beta1.Resource("nodes"), name)
		}
		m := nodeMetrics("node-3", "2", "1Gi")
		return true, &m, nil
	})

	adapter := NewAPIMetricsAdapter(zaptest.NewLogger(t), fake.NewSimpleClientset(), metricsClient.MetricsV1beta1(), testQueries(t))

	usage, err := adapter.GetNodeUsage(context.Background(), "node-3")
	require.NoError(t, err)
	assert.Equal(t, "node-3", usage.Name)
	assert.InDelta(t, 2.0, usage.CPUCores, 1e-9)
	assert.Equal(t, "1Gi", usage.Memory)

	_, err = adapter.GetNodeUsage(context.Background(), "node-4")
	assert.ErrorIs(t, err, query.ErrNodeQueryFailed)
}
