package allocation

import (
	"context"
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
	ktesting "k8s.io/client-go/testing"

	"github.com/aaronlmathis/noderes/internal/query"
)

func testQueries(t *testing.T) *query.Client {
	return query.NewClient(zaptest.NewLogger(t), query.Options{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		Factor:         2,
	})
}

func resources(pairs ...string) corev1.ResourceList {
	list := corev1.ResourceList{}
	for i := 0; i+1 < len(pairs); i += 2 {
		list[corev1.ResourceName(pairs[i])] = resource.MustParse(pairs[i+1])
	}
	return list
}

func testPod(name, namespace, node string, phase corev1.PodPhase, containers ...corev1.Container) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.PodSpec{
			NodeName:   node,
			Containers: containers,
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func testContainer(requests, limits corev1.ResourceList) corev1.Container {
	return corev1.Container{
		Name:      "app",
		Resources: corev1.ResourceRequirements{Requests: requests, Limits: limits},
	}
}

func TestBuild(t *testing.T) {
	pod1 := testPod("web", "default", "node-1", corev1.PodRunning,
		testContainer(resources("cpu", "250m", "memory", "1Gi"), resources("cpu", "500m", "memory", "2Gi")),
		testContainer(resources("cpu", "500m", "memory", "100m"), nil),
	)
	pod1.Spec.InitContainers = []corev1.Container{
		testContainer(resources("cpu", "1"), nil),
	}

	pod2 := testPod("batch", "jobs", "node-1", corev1.PodRunning,
		testContainer(resources("cpu", "100m", "ephemeral-storage", "1Gi"), nil),
	)
	pod2.Spec.Overhead = resources("cpu", "50m")

	report := Build("node-1", []corev1.Pod{*pod1, *pod2})

	assert.Equal(t, "node-1", report.NodeName)
	assert.Equal(t, 2, report.PodCount)
	assert.Equal(t, "1150m", report.CPURequests)
	assert.Equal(t, "500m", report.CPULimits)
	// A memory request declared in millibytes drags the whole sum into milli units
	assert.Equal(t, "1073741824100m", report.MemoryRequests)
	assert.Equal(t, "2Gi", report.MemoryLimits)
	assert.Equal(t, "1Gi", report.EphemeralRequests)
	assert.Equal(t, "0", report.EphemeralLimits)
}

func TestBuild_NoPods(t *testing.T) {
	report := Build("empty", nil)

	assert.Equal(t, 0, report.PodCount)
	assert.Equal(t, "0", report.CPURequests)
	assert.Equal(t, "0", report.MemoryRequests)
	assert.Equal(t, "0", report.MemoryLimits)
}

func TestPodRequestsAndLimits_OverheadOnlyOnSetLimits(t *testing.T) {
	pod := testPod("p", "default", "node-1", corev1.PodRunning,
		testContainer(resources("cpu", "1", "memory", "1Gi"), resources("memory", "1Gi")),
	)
	pod.Spec.Overhead = resources("cpu", "100m", "memory", "128Mi")

	reqs, limits := PodRequestsAndLimits(pod)

	cpuReq := reqs[corev1.ResourceCPU]
	memReq := reqs[corev1.ResourceMemory]
	memLimit := limits[corev1.ResourceMemory]
	assert.Equal(t, "1100m", cpuReq.String())
	assert.Equal(t, "1152Mi", memReq.String())
	assert.Equal(t, "1152Mi", memLimit.String())
	_, hasCPULimit := limits[corev1.ResourceCPU]
	assert.False(t, hasCPULimit)
}

func TestService_DescribeNode(t *testing.T) {
	fakeClient := fake.NewSimpleClientset(
		testPod("a", "default", "node-1", corev1.PodRunning, testContainer(resources("cpu", "500m", "memory", "512Mi"), nil)),
		testPod("b", "kube-system", "node-1", corev1.PodPending, testContainer(resources("cpu", "500m", "memory", "512Mi"), nil)),
		testPod("done", "default", "node-1", corev1.PodSucceeded, testContainer(resources("cpu", "4", "memory", "8Gi"), nil)),
		testPod("other", "default", "node-2", corev1.PodRunning, testContainer(resources("cpu", "2"), nil)),
	)
	service := NewService(zaptest.NewLogger(t), fakeClient, testQueries(t))

	report, err := service.DescribeNode(context.Background(), "node-1")

	require.NoError(t, err)
	assert.Equal(t, 2, report.PodCount)
	assert.Equal(t, "1", report.CPURequests)
	assert.Equal(t, "1Gi", report.MemoryRequests)
}

func TestService_ListNodePods(t *testing.T) {
	fakeClient := fake.NewSimpleClientset(
		testPod("a", "default", "node-1", corev1.PodRunning),
		testPod("done", "default", "node-1", corev1.PodSucceeded),
		testPod("other", "default", "node-2", corev1.PodRunning),
	)
	service := NewService(zaptest.NewLogger(t), fakeClient, testQueries(t))

	pods, err := service.ListNodePods(context.Background(), "node-1")

	require.NoError(t, err)
	names := []string{}
	for _, pod := range pods {
		names = append(names, pod.Name)
	}
	assert.ElementsMatch(t, []string{"a", "done"}, names)
}

func TestService_DescribeNode_Error(t *testing.T) {
	fakeClient := fake.NewSimpleClientset()
	fakeClient.PrependReactor("list", "pods", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, assert.AnError
	})
	service := NewService(zaptest.NewLogger(t), fakeClient, testQueries(t))

	report, err := service.DescribeNode(context.Background(), "node-1")

	assert.Nil(t, report)
	assert.ErrorIs(t, err, query.ErrNodeQueryFailed)
	assert.Contains(t, err.Error(), "node-1")
}
