package kubernetes

import (
	"context"
	"io"
	"log/slog"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func releasePod(name, namespace, release string, ready bool) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: map[string]string{InstanceLabel: release}},
		Spec:       corev1.PodSpec{NodeName: "node-a"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
			ContainerStatuses: []corev1.ContainerStatus{{
				RestartCount: 2,
				State:        corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff", Message: "back-off"}},
			}},
		},
	}
}

func TestReleasePods(t *testing.T) {
	client := fake.NewSimpleClientset(
		releasePod("db-1", "tenant", "pid-1", false),
		releasePod("db-0", "tenant", "pid-1", true),
		releasePod("other-0", "tenant", "pid-2", true),
	)
	inspector := NewWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pods, err := inspector.ReleasePods(context.Background(), "tenant", "pid-1")
	if err != nil {
		t.Fatalf("ReleasePods: %v", err)
	}
	if len(pods) != 2 {
		t.Fatalf("expected 2 pods, got %d", len(pods))
	}
	if pods[0].Name != "db-0" || !pods[0].Ready {
		t.Fatalf("unexpected first pod %+v", pods[0])
	}
	if pods[1].Ready || pods[1].Reason != "CrashLoopBackOff" || pods[1].Restarts != 2 || pods[1].Node != "node-a" {
		t.Fatalf("unexpected second pod %+v", pods[1])
	}
}

func TestDeleteReleaseVolumes(t *testing.T) {
	claim := func(name, release string) *corev1.PersistentVolumeClaim {
		return &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{
			Name: name, Namespace: "tenant", Labels: map[string]string{InstanceLabel: release},
		}}
	}
	client := fake.NewSimpleClientset(claim("data-0", "pid-1"), claim("data-1", "pid-1"), claim("keep", "pid-2"))
	inspector := NewWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	deleted, err := inspector.DeleteReleaseVolumes(ctx, "tenant", "pid-1")
	if err != nil {
		t.Fatalf("DeleteReleaseVolumes: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
	remaining, err := client.CoreV1().PersistentVolumeClaims("tenant").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining.Items) != 1 || remaining.Items[0].Name != "keep" {
		t.Fatalf("unexpected remaining claims %+v", remaining.Items)
	}
}

func TestPing(t *testing.T) {
	inspector := NewWithClient(fake.NewSimpleClientset(), nil)
	if err := inspector.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
