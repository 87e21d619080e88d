package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type stubLister struct {
	pods  []corev1.Pod
	err   error
	calls int
}

func (s *stubLister) ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	s.calls++
	return s.pods, s.err
}

func podWithContainers(name string, containers ...corev1.Container) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: corev1.PodSpec{
			NodeName:   "node-1",
			Containers: containers,
		},
	}
}

func container(requests, limits corev1.ResourceList) corev1.Container {
	return corev1.Container{
		Name: "c",
		Resources: corev1.ResourceRequirements{
			Requests: requests,
			Limits:   limits,
		},
	}
}

func TestSumDeclared(t *testing.T) {
	pods := []corev1.Pod{
		podWithContainers("a",
			container(
				corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("512Mi")},
				corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("1Gi")},
			),
			container(
				corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("1536Mi")},
				nil,
			),
		),
		podWithContainers("b",
			container(nil, nil),
			container(
				corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("100m")},
				corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("2Gi")},
			),
		),
	}

	assert.InDelta(t, 2.0, SumDeclared(pods, corev1.ResourceMemory, Requests), 1e-9)
	assert.InDelta(t, 3.0, SumDeclared(pods, corev1.ResourceMemory, Limits), 1e-9)
	assert.Equal(t, 0.0, SumDeclared(pods, corev1.ResourceEphemeralStorage, Requests))
	assert.Equal(t, 0.0, SumDeclared(nil, corev1.ResourceMemory, Requests))
}

func TestFallbackCalculator_Recompute(t *testing.T) {
	lister := &stubLister{
		pods: []corev1.Pod{
			podWithContainers("a", container(corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("3Gi")}, nil)),
			podWithContainers("b", container(corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("1Gi")}, nil)),
		},
	}
	calc := NewFallbackCalculator(zaptest.NewLogger(t), lister)

	result, err := calc.Recompute(context.Background(), "node-1", corev1.ResourceMemory, Requests)

	require.NoError(t, err)
	assert.InDelta(t, 4.0, result, 1e-9)
	assert.Equal(t, 1, lister.calls)
}

func TestFallbackCalculator_RecomputeListError(t *testing.T) {
	lister := &stubLister{err: assert.AnError}
	calc := NewFallbackCalculator(zaptest.NewLogger(t), lister)

	result, err := calc.Recompute(context.Background(), "node-1", corev1.ResourceMemory, Limits)

	assert.Error(t, err)
	assert.Equal(t, 0.0, result)
	assert.Contains(t, err.Error(), "node-1")
}
