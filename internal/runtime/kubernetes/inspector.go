// Package kubernetes reads and cleans up the cluster objects a Helm release leaves behind.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// InstanceLabel is the label Helm charts put on every object of a release.
const InstanceLabel = "app.kubernetes.io/instance"

// PodStatus summarises one pod belonging to a release.
type PodStatus struct {
	Name      string    `json:"name"`
	Phase     string    `json:"phase"`
	Ready     bool      `json:"ready"`
	Restarts  int32     `json:"restarts"`
	Node      string    `json:"node,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Inspector queries the cluster for release resources.
type Inspector struct {
	client kubernetes.Interface
	logger *slog.Logger
}

// New creates an Inspector. It prefers in-cluster configuration and falls back to
// the kubeconfig path when running locally.
func New(kubeconfig string, log *slog.Logger) (*Inspector, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig = strings.TrimSpace(kubeconfig)
		if kubeconfig == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, log), nil
}

// NewWithClient wraps an existing clientset.
func NewWithClient(client kubernetes.Interface, log *slog.Logger) *Inspector {
	if log == nil {
		log = slog.Default()
	}
	return &Inspector{client: client, logger: log}
}

// Ping checks the API server is reachable.
func (i *Inspector) Ping(context.Context) error {
	if _, err := i.client.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("kubernetes server version: %w", err)
	}
	return nil
}

// ReleasePods lists the pods of a release ordered by name.
func (i *Inspector) ReleasePods(ctx context.Context, namespace, release string) ([]PodStatus, error) {
	pods, err := i.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector(release)})
	if err != nil {
		return nil, fmt.Errorf("list pods for %s: %w", release, err)
	}

	out := make([]PodStatus, 0, len(pods.Items))
	for idx := range pods.Items {
		pod := &pods.Items[idx]
		out = append(out, PodStatus{
			Name:      pod.Name,
			Phase:     string(pod.Status.Phase),
			Ready:     isPodReady(pod),
			Restarts:  restartCount(pod.Status.ContainerStatuses),
			Node:      pod.Spec.NodeName,
			Reason:    containerReason(pod.Status.ContainerStatuses),
			Message:   containerMessage(pod.Status.ContainerStatuses),
			StartedAt: podStartTime(pod),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// DeleteReleaseVolumes removes the persistent volume claims a release left behind.
// Helm uninstall keeps claims created from StatefulSet templates.
func (i *Inspector) DeleteReleaseVolumes(ctx context.Context, namespace, release string) (int, error) {
	claims := i.client.CoreV1().PersistentVolumeClaims(namespace)
	list, err := claims.List(ctx, metav1.ListOptions{LabelSelector: labelSelector(release)})
	if err != nil {
		return 0, fmt.Errorf("list volume claims for %s: %w", release, err)
	}

	deleted := 0
	for _, pvc := range list.Items {
		if err := claims.Delete(ctx, pvc.Name, metav1.DeleteOptions{}); err != nil {
			if apierrors.IsNotFound(err) {
				continue
			}
			return deleted, fmt.Errorf("delete volume claim %s: %w", pvc.Name, err)
		}
		deleted++
		i.logger.Info("deleted volume claim", "namespace", namespace, "release", release, "claim", pvc.Name)
	}
	return deleted, nil
}

func labelSelector(release string) string {
	return fmt.Sprintf("%s=%s", InstanceLabel, release)
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func podStartTime(pod *corev1.Pod) time.Time {
	if pod.Status.StartTime != nil {
		return pod.Status.StartTime.Time
	}
	return time.Time{}
}

func restartCount(statuses []corev1.ContainerStatus) int32 {
	var total int32
	for _, s := range statuses {
		total += s.RestartCount
	}
	return total
}

func containerReason(statuses []corev1.ContainerStatus) string {
	for _, s := range statuses {
		if s.State.Waiting != nil && s.State.Waiting.Reason != "" {
			return s.State.Waiting.Reason
		}
		if s.State.Terminated != nil && s.State.Terminated.Reason != "" {
			return s.State.Terminated.Reason
		}
	}
	return ""
}

func containerMessage(statuses []corev1.ContainerStatus) string {
	for _, s := range statuses {
		if s.State.Waiting != nil && s.State.Waiting.Message != "" {
			return s.State.Waiting.Message
		}
		if s.State.Terminated != nil && s.State.Terminated.Message != "" {
			return s.State.Terminated.Message
		}
	}
	return ""
}
