package allocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"

	"github.com/aaronlmathis/noderes/internal/query"
)

// Report is the describe-style "Allocated resources" summary of a node.
// Quantities are kept as the raw strings the aggregate renders to, because
// that rendering is where the millicore-suffixed memory defect shows up.
type Report struct {
	NodeName string

	CPURequests string
	CPULimits   string

	MemoryRequests string
	MemoryLimits   string

	EphemeralRequests string
	EphemeralLimits   string

	// PodCount is the number of non-terminated pods included in the sums
	PodCount int
}

// Service builds allocation reports and lists the workloads on a node
type Service struct {
	logger     *zap.Logger
	kubeClient kubernetes.Interface
	queries    *query.Client
}

// NewService creates a new allocation service
func NewService(logger *zap.Logger, kubeClient kubernetes.Interface, queries *query.Client) *Service {
	return &Service{
		logger:     logger,
		kubeClient: kubeClient,
		queries:    queries,
	}
}

// DescribeNode sums the requests and limits of all non-terminated pods on the node
func (s *Service) DescribeNode(ctx context.Context, nodeName string) (*Report, error) {
	selector := fields.AndSelectors(
		fields.OneTermEqualSelector("spec.nodeName", nodeName),
		fields.OneTermNotEqualSelector("status.phase", string(corev1.PodSucceeded)),
		fields.OneTermNotEqualSelector("status.phase", string(corev1.PodFailed)),
	)

	var pods *corev1.PodList
	op := query.Operation{Name: "describe-node", Kind: query.PerNode}
	err := s.queries.Do(ctx, op, func(ctx context.Context) error {
		var listErr error
		pods, listErr = s.kubeClient.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
			FieldSelector: selector.String(),
		})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe node %s: %w", nodeName, err)
	}

	var active []corev1.Pod
	for _, pod := range onNode(pods.Items, nodeName) {
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		active = append(active, pod)
	}

	report := Build(nodeName, active)
	s.logger.Debug("Node allocation described",
		zap.String("node", nodeName),
		zap.Int("pods", report.PodCount),
		zap.String("cpuRequests", report.CPURequests),
		zap.String("memoryRequests", report.MemoryRequests),
	)
	return report, nil
}

// ListNodePods returns every pod scheduled on the node
func (s *Service) ListNodePods(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	var pods *corev1.PodList
	op := query.Operation{Name: "list-node-pods", Kind: query.PerNode, Quiet: true}
	err := s.queries.Do(ctx, op, func(ctx context.Context) error {
		var listErr error
		pods, listErr = s.kubeClient.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
			FieldSelector: fields.OneTermEqualSelector("spec.nodeName", nodeName).String(),
		})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods on node %s: %w", nodeName, err)
	}
	return onNode(pods.Items, nodeName), nil
}

// onNode drops pods bound elsewhere. Field selectors are not honoured by every client.
func onNode(pods []corev1.Pod, nodeName string) []corev1.Pod {
	result := make([]corev1.Pod, 0, len(pods))
	for _, pod := range pods {
		if pod.Spec.NodeName == nodeName {
			result = append(result, pod)
		}
	}
	return result
}

// Build computes the allocation report for a set of pods
func Build(nodeName string, pods []corev1.Pod) *Report {
	reqs, limits := corev1.ResourceList{}, corev1.ResourceList{}
	for i := range pods {
		podReqs, podLimits := PodRequestsAndLimits(&pods[i])
		addResourceList(reqs, podReqs)
		addResourceList(limits, podLimits)
	}

	return &Report{
		NodeName:          nodeName,
		CPURequests:       quantityString(reqs, corev1.ResourceCPU),
		CPULimits:         quantityString(limits, corev1.ResourceCPU),
		MemoryRequests:    quantityString(reqs, corev1.ResourceMemory),
		MemoryLimits:      quantityString(limits, corev1.ResourceMemory),
		EphemeralRequests: quantityString(reqs, corev1.ResourceEphemeralStorage),
		EphemeralLimits:   quantityString(limits, corev1.ResourceEphemeralStorage),
		PodCount:          len(pods),
	}
}

// PodRequestsAndLimits returns the effective requests and limits of a pod:
// the sum over app containers, raised to the largest init container, plus overhead.
func PodRequestsAndLimits(pod *corev1.Pod) (reqs, limits corev1.ResourceList) {
	reqs, limits = corev1.ResourceList{}, corev1.ResourceList{}
	for _, container := range pod.Spec.Containers {
		addResourceList(reqs, container.Resources.Requests)
		addResourceList(limits, container.Resources.Limits)
	}
	for _, container := range pod.Spec.InitContainers {
		maxResourceList(reqs, container.Resources.Requests)
		maxResourceList(limits, container.Resources.Limits)
	}
	if pod.Spec.Overhead != nil {
		addResourceList(reqs, pod.Spec.Overhead)
		for name, quantity := range pod.Spec.Overhead {
			// Overhead only counts toward limits that are already set
			if value, ok := limits[name]; ok {
				value.Add(quantity)
				limits[name] = value
			}
		}
	}
	return reqs, limits
}

func addResourceList(list, add corev1.ResourceList) {
	for name, quantity := range add {
		if value, ok := list[name]; !ok {
			list[name] = quantity.DeepCopy()
		} else {
			value.Add(quantity)
			list[name] = value
		}
	}
}

func maxResourceList(list, other corev1.ResourceList) {
	for name, quantity := range other {
		if value, ok := list[name]; !ok || quantity.Cmp(value) > 0 {
			list[name] = quantity.DeepCopy()
		}
	}
}

func quantityString(list corev1.ResourceList, name corev1.ResourceName) string {
	if q, ok := list[name]; ok {
		return q.String()
	}
	return resource.NewQuantity(0, resource.DecimalSI).String()
}
