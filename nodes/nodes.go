package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Node status values.
const (
	StatusReady    = "Ready"
	StatusNotReady = "NotReady"
	StatusUnknown  = "Unknown"
)

// DefaultRole is reported for nodes that carry no role label.
const DefaultRole = "worker"

const roleLabelPrefix = "node-role.kubernetes.io/"

// Node is one orchestrator node as shown on the dashboard.
type Node struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Role       string     `json:"role"`
	Arch       string     `json:"arch"`
	CPU        string     `json:"cpu"`
	OSImage    string     `json:"os_image"`
	Kernel     string     `json:"kernel"`
	InternalIP string     `json:"internal_ip"`
	Heartbeat  *time.Time `json:"heartbeat,omitempty"`
}

// Lister lists orchestrator nodes.
type Lister interface {
	List(ctx context.Context) ([]Node, error)
}

// Compile-time checks.
var (
	_ Lister = (*Provider)(nil)
	_ Lister = Disabled{}
)

// Provider lists nodes through the Kubernetes API.
type Provider struct {
	client        kubernetes.Interface
	labelSelector string
	logger        *slog.Logger
}

// New creates a node lister over client.
func New(client kubernetes.Interface, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// List returns every node sorted by name.
func (p *Provider) List(ctx context.Context) ([]Node, error) {
	list, err := p.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("nodes: list: %w", err)
	}

	out := make([]Node, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, fromK8s(&list.Items[i]))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	p.logger.Debug("listed nodes", slog.Int("count", len(out)))
	return out, nil
}

// Disabled is the lister used when no orchestrator is configured. It
// always returns an empty list.
type Disabled struct{}

// List implements Lister.
func (Disabled) List(context.Context) ([]Node, error) { return []Node{}, nil }

// NewClientset builds a Kubernetes clientset. An empty kubeconfig path
// uses the in-cluster service account.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("nodes: load config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("nodes: build clientset: %w", err)
	}
	return cs, nil
}

// FromKubeconfig returns a Provider for kubeconfig, or Disabled when the
// value is "none". A cluster that cannot be reached at startup also yields
// Disabled; the error is returned for logging.
func FromKubeconfig(kubeconfig string, opts ...Option) (Lister, error) {
	if strings.EqualFold(kubeconfig, "none") {
		return Disabled{}, nil
	}
	cs, err := NewClientset(kubeconfig)
	if err != nil {
		return Disabled{}, err
	}
	return New(cs, opts...), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func fromK8s(n *corev1.Node) Node {
	info := n.Status.NodeInfo
	node := Node{
		Name:    n.Name,
		Status:  StatusUnknown,
		Role:    role(n.Labels),
		Arch:    info.Architecture,
		OSImage: info.OSImage,
		Kernel:  info.KernelVersion,
	}
	if cpu, ok := n.Status.Capacity[corev1.ResourceCPU]; ok {
		node.CPU = cpu.String()
	}
	for _, addr := range n.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			node.InternalIP = addr.Address
			break
		}
	}

	var latest time.Time
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			switch c.Status {
			case corev1.ConditionTrue:
				node.Status = StatusReady
			case corev1.ConditionFalse:
				node.Status = StatusNotReady
			}
		}
		if hb := c.LastHeartbeatTime.Time; hb.After(latest) {
			latest = hb
		}
	}
	if !latest.IsZero() {
		hb := latest.UTC()
		node.Heartbeat = &hb
	}
	return node
}

// role joins the node-role labels, e.g. "control-plane,master".
func role(labels map[string]string) string {
	var roles []string
	for k := range labels {
		if r, ok := strings.CutPrefix(k, roleLabelPrefix); ok && r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return DefaultRole
	}
	sort.Strings(roles)
	return strings.Join(roles, ",")
}
