// Package kubernetes inspects pods and manages deployments through
// client-go.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const (
	DefaultNamespace  = "default"
	restartAnnotation = "kubectl.kubernetes.io/restartedAt"
)

type Config struct {
	// Kubeconfig is a kubeconfig path; empty uses the default loading rules
	// ($KUBECONFIG, ~/.kube/config).
	Kubeconfig string
	Context    string
	// InCluster uses the pod's service account instead of a kubeconfig.
	InCluster bool
	Timeout   time.Duration
}

type Connector struct {
	cs  kubernetes.Interface
	now func() time.Time
}

func New(cfg Config) (*Connector, error) {
	restCfg, err := restConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes.New config: %w", err)
	}
	if cfg.Timeout > 0 {
		restCfg.Timeout = cfg.Timeout
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes.New clientset: %w", err)
	}
	return NewWithClientset(cs), nil
}

// NewWithClientset wraps an existing clientset.
func NewWithClientset(cs kubernetes.Interface) *Connector {
	return &Connector{cs: cs, now: time.Now}
}

func restConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		return rest.InClusterConfig()
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func (c *Connector) Name() string { return "kubernetes" }

func (c *Connector) Operations() []connectors.Operation {
	namespace := connectors.Param{Name: "namespace", Type: connectors.TypeString, Default: DefaultNamespace}
	name := connectors.Param{Name: "name", Type: connectors.TypeString, Description: "Deployment name", Required: true}
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "kubernetes_list_pods",
			Description: "List pods in a namespace, optionally filtered by label selector.",
			ReadOnly:    true,
			Params: []connectors.Param{
				namespace,
				{Name: "label_selector", Type: connectors.TypeString, Description: "e.g. app=web,tier!=cache"},
				{Name: "limit", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 500}, Default: 100},
			},
		}, c.listPods),
		connectors.SentinelOp(connectors.Operation{
			Name:        "kubernetes_get_deployment",
			Description: "Get a deployment's replica status and images.",
			Action:      "getting deployment",
			ReadOnly:    true,
			Params:      []connectors.Param{namespace, name},
		}, c.getDeployment),
		connectors.SentinelOp(connectors.Operation{
			Name:        "kubernetes_scale_deployment",
			Description: "Set a deployment's replica count.",
			Action:      "scaling deployment",
			Params: []connectors.Param{
				namespace, name,
				{Name: "replicas", Type: connectors.TypeInteger, Required: true, Range: &connectors.Range{Min: 0, Max: 100}},
			},
		}, c.scaleDeployment),
		connectors.SentinelOp(connectors.Operation{
			Name:        "kubernetes_restart_deployment",
			Description: "Trigger a rolling restart of a deployment.",
			Action:      "restarting deployment",
			Params:      []connectors.Param{namespace, name},
		}, c.restartDeployment),
	}
}

func ns(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

// ──────────────────────────────────────────────────────────────────────────────
// Pods
// ──────────────────────────────────────────────────────────────────────────────

type Pod struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Phase     string            `json:"phase"`
	Node      string            `json:"node"`
	PodIP     string            `json:"pod_ip"`
	Ready     string            `json:"ready"`
	Restarts  int32             `json:"restarts"`
	CreatedAt string            `json:"created_at"`
	Labels    map[string]string `json:"labels"`
}

type listPodsParams struct {
	Namespace     string `json:"namespace"`
	LabelSelector string `json:"label_selector"`
	Limit         int    `json:"limit"`
}

func (c *Connector) listPods(ctx context.Context, p listPodsParams) ([]Pod, error) {
	limit := transport.ClampDefault(p.Limit, 100, 1, 500)
	list, err := c.cs.CoreV1().Pods(ns(p.Namespace)).List(ctx, metav1.ListOptions{
		LabelSelector: p.LabelSelector,
		Limit:         int64(limit),
	})
	if err != nil {
		return nil, err
	}
	items := list.Items
	if len(items) > limit {
		items = items[:limit]
	}
	pods := make([]Pod, 0, len(items))
	for i := range items {
		pods = append(pods, toPod(&items[i]))
	}
	return pods, nil
}

func toPod(p *corev1.Pod) Pod {
	var ready int
	var restarts int32
	for _, s := range p.Status.ContainerStatuses {
		if s.Ready {
			ready++
		}
		restarts += s.RestartCount
	}
	labels := p.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return Pod{
		Name:      p.Name,
		Namespace: p.Namespace,
		Phase:     string(p.Status.Phase),
		Node:      p.Spec.NodeName,
		PodIP:     p.Status.PodIP,
		Ready:     fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)),
		Restarts:  restarts,
		CreatedAt: formatTime(p.CreationTimestamp),
		Labels:    labels,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Deployments
// ──────────────────────────────────────────────────────────────────────────────

type Deployment struct {
	Name              string   `json:"name"`
	Namespace         string   `json:"namespace"`
	Replicas          int32    `json:"replicas"`
	ReadyReplicas     int32    `json:"ready_replicas"`
	UpdatedReplicas   int32    `json:"updated_replicas"`
	AvailableReplicas int32    `json:"available_replicas"`
	Images            []string `json:"images"`
	CreatedAt         string   `json:"created_at"`
	RestartedAt       string   `json:"restarted_at"`
}

func toDeployment(d *appsv1.Deployment) Deployment {
	out := Deployment{
		Name:              d.Name,
		Namespace:         d.Namespace,
		ReadyReplicas:     d.Status.ReadyReplicas,
		UpdatedReplicas:   d.Status.UpdatedReplicas,
		AvailableReplicas: d.Status.AvailableReplicas,
		Images:            []string{},
		CreatedAt:         formatTime(d.CreationTimestamp),
		RestartedAt:       d.Spec.Template.Annotations[restartAnnotation],
	}
	if d.Spec.Replicas != nil {
		out.Replicas = *d.Spec.Replicas
	}
	for _, ctr := range d.Spec.Template.Spec.Containers {
		out.Images = append(out.Images, ctr.Image)
	}
	return out
}

type deploymentParams struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (c *Connector) getDeployment(ctx context.Context, p deploymentParams) (Deployment, error) {
	d, err := c.cs.AppsV1().Deployments(ns(p.Namespace)).Get(ctx, p.Name, metav1.GetOptions{})
	if err != nil {
		return Deployment{}, err
	}
	return toDeployment(d), nil
}

type scaleParams struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Replicas  int    `json:"replicas"`
}

func (c *Connector) scaleDeployment(ctx context.Context, p scaleParams) (Deployment, error) {
	replicas := transport.Clamp(p.Replicas, 0, 100)
	patch := fmt.Appendf(nil, `{"spec":{"replicas":%d}}`, replicas)
	d, err := c.cs.AppsV1().Deployments(ns(p.Namespace)).Patch(ctx, p.Name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return Deployment{}, err
	}
	return toDeployment(d), nil
}

func (c *Connector) restartDeployment(ctx context.Context, p deploymentParams) (Deployment, error) {
	at := c.now().UTC().Format(time.RFC3339)
	patch := fmt.Appendf(nil, `{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`, restartAnnotation, at)
	d, err := c.cs.AppsV1().Deployments(ns(p.Namespace)).Patch(ctx, p.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return Deployment{}, err
	}
	return toDeployment(d), nil
}

func formatTime(t metav1.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
