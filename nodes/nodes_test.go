package nodes

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func makeNode(name string, ready corev1.ConditionStatus, labels map[string]string, hb time.Time) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Status: corev1.NodeStatus{
			Capacity: corev1.ResourceList{
				corev1.ResourceCPU: resource.MustParse("4"),
			},
			Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeHostName, Address: name},
				{Type: corev1.NodeInternalIP, Address: "10.0.0.7"},
			},
			Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeMemoryPressure, Status: corev1.ConditionFalse, LastHeartbeatTime: metav1.NewTime(hb.Add(-time.Minute))},
				{Type: corev1.NodeReady, Status: ready, LastHeartbeatTime: metav1.NewTime(hb)},
			},
			NodeInfo: corev1.NodeSystemInfo{
				Architecture:  "arm64",
				OSImage:       "Ubuntu 24.04 LTS",
				KernelVersion: "6.8.0-31-generic",
			},
		},
	}
}

func newTestProvider(t *testing.T, nodes ...*corev1.Node) *Provider {
	t.Helper()
	cs := fake.NewClientset()
	for _, n := range nodes {
		if _, err := cs.CoreV1().Nodes().Create(context.Background(), n, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create node: %v", err)
		}
	}
	return New(cs)
}

// ──────────────────────────────────────────────────
// List tests
// ──────────────────────────────────────────────────

func TestList(t *testing.T) {
	hb := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newTestProvider(t,
		makeNode("pi-2", corev1.ConditionFalse, nil, hb),
		makeNode("pi-1", corev1.ConditionTrue, map[string]string{
			"node-role.kubernetes.io/control-plane": "",
			"node-role.kubernetes.io/master":        "",
		}, hb),
	)

	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(got))
	}

	first := got[0]
	if first.Name != "pi-1" {
		t.Fatalf("expected nodes sorted by name, got %q first", first.Name)
	}
	if first.Status != StatusReady {
		t.Errorf("status = %q, want Ready", first.Status)
	}
	if first.Role != "control-plane,master" {
		t.Errorf("role = %q", first.Role)
	}
	if first.Arch != "arm64" || first.CPU != "4" || first.Kernel != "6.8.0-31-generic" || first.OSImage != "Ubuntu 24.04 LTS" {
		t.Errorf("node info = %+v", first)
	}
	if first.InternalIP != "10.0.0.7" {
		t.Errorf("internal ip = %q", first.InternalIP)
	}
	if first.Heartbeat == nil || !first.Heartbeat.Equal(hb) {
		t.Errorf("heartbeat = %v, want latest condition %v", first.Heartbeat, hb)
	}

	second := got[1]
	if second.Status != StatusNotReady {
		t.Errorf("status = %q, want NotReady", second.Status)
	}
	if second.Role != DefaultRole {
		t.Errorf("role = %q, want %q", second.Role, DefaultRole)
	}
}

func TestList_NoConditions(t *testing.T) {
	p := newTestProvider(t, &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "bare"}})

	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got[0].Status != StatusUnknown || got[0].Heartbeat != nil {
		t.Errorf("bare node = %+v", got[0])
	}
}

func TestList_LabelSelector(t *testing.T) {
	hb := time.Now().UTC()
	cs := fake.NewClientset(
		makeNode("gpu", corev1.ConditionTrue, map[string]string{"accel": "gpu"}, hb),
		makeNode("cpu", corev1.ConditionTrue, nil, hb),
	)
	p := New(cs, WithLabelSelector("accel=gpu"))

	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Name != "gpu" {
		t.Fatalf("expected only gpu node, got %+v", got)
	}
}

func TestDisabled(t *testing.T) {
	got, err := Disabled{}.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}

	l, err := FromKubeconfig("none")
	if err != nil {
		t.Fatalf("FromKubeconfig: %v", err)
	}
	if _, ok := l.(Disabled); !ok {
		t.Fatalf("expected Disabled, got %T", l)
	}
}
