// Package topology provides a thin read-only client over the cluster API
// for the enrichment pipeline. All methods are single GETs or namespace
// scoped LISTs; no writes, no watches.
package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Interface is the read-only topology access contract consumed by the
// enricher, the owner-chain builder and the detector.
type Interface interface {
	GetNamespace(ctx context.Context, name string) (*corev1.Namespace, error)
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	GetNode(ctx context.Context, name string) (*corev1.Node, error)
	GetWorkload(ctx context.Context, namespace, kind, name string) (*unstructured.Unstructured, error)
	ListPodDisruptionBudgets(ctx context.Context, namespace string) (*policyv1.PodDisruptionBudgetList, error)
	ListHorizontalPodAutoscalers(ctx context.Context, namespace string) (*autoscalingv2.HorizontalPodAutoscalerList, error)
	ListNetworkPolicies(ctx context.Context, namespace string) (*networkingv1.NetworkPolicyList, error)
}

// workloadGVRs maps supported workload kinds to their resources. Owner
// traversal and workload fetches stop at kinds outside this map.
var workloadGVRs = map[string]schema.GroupVersionResource{
	"Deployment":  {Group: "apps", Version: "v1", Resource: "deployments"},
	"StatefulSet": {Group: "apps", Version: "v1", Resource: "statefulsets"},
	"DaemonSet":   {Group: "apps", Version: "v1", Resource: "daemonsets"},
	"ReplicaSet":  {Group: "apps", Version: "v1", Resource: "replicasets"},
	"Job":         {Group: "batch", Version: "v1", Resource: "jobs"},
	"CronJob":     {Group: "batch", Version: "v1", Resource: "cronjobs"},
}

// WorkloadGVR returns the GroupVersionResource for a workload kind.
func WorkloadGVR(kind string) (schema.GroupVersionResource, bool) {
	gvr, ok := workloadGVRs[kind]
	return gvr, ok
}

// IsWorkloadKind reports whether kind is a workload kind the pipeline can
// fetch directly.
func IsWorkloadKind(kind string) bool {
	_, ok := workloadGVRs[kind]
	return ok
}

// Config holds topology client configuration.
type Config struct {
	// CacheSize is the maximum number of cached GET results. Zero disables
	// the cache.
	CacheSize int

	// CacheTTL is how long a cached GET result stays valid.
	CacheTTL time.Duration
}

// DefaultConfig returns the default topology client configuration.
func DefaultConfig() Config {
	return Config{
		CacheSize: 512,
		CacheTTL:  30 * time.Second,
	}
}

// Client implements Interface over a typed clientset for core kinds and a
// dynamic client for arbitrary workload kinds. GETs go through a bounded
// expiring cache; the cache is a latency optimization only, correctness
// never depends on it.
type Client struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	cache     *readCache
	logger    *logging.Logger
}

// New creates a topology client.
func New(clientset kubernetes.Interface, dynamicClient dynamic.Interface, cfg Config) *Client {
	return &Client{
		clientset: clientset,
		dynamic:   dynamicClient,
		cache:     newReadCache(cfg.CacheSize, cfg.CacheTTL),
		logger:    logging.GetLogger("topology.client"),
	}
}

// GetNamespace fetches namespace metadata.
func (c *Client) GetNamespace(ctx context.Context, name string) (*corev1.Namespace, error) {
	key := cacheKey("Namespace", "", name)
	if obj, ok := c.cache.get(key); ok {
		return obj.(*corev1.Namespace), nil
	}

	ns, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	c.cache.add(key, ns)
	return ns, nil
}

// GetPod fetches a pod.
func (c *Client) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	key := cacheKey("Pod", namespace, name)
	if obj, ok := c.cache.get(key); ok {
		return obj.(*corev1.Pod), nil
	}

	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	c.cache.add(key, pod)
	return pod, nil
}

// GetNode fetches a node.
func (c *Client) GetNode(ctx context.Context, name string) (*corev1.Node, error) {
	key := cacheKey("Node", "", name)
	if obj, ok := c.cache.get(key); ok {
		return obj.(*corev1.Node), nil
	}

	node, err := c.clientset.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	c.cache.add(key, node)
	return node, nil
}

// GetWorkload fetches a workload of a supported kind via the dynamic client.
func (c *Client) GetWorkload(ctx context.Context, namespace, kind, name string) (*unstructured.Unstructured, error) {
	gvr, ok := workloadGVRs[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported workload kind %q", kind)
	}

	key := cacheKey(kind, namespace, name)
	if obj, ok := c.cache.get(key); ok {
		return obj.(*unstructured.Unstructured), nil
	}

	u, err := c.dynamic.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	c.cache.add(key, u)
	return u, nil
}

// ListPodDisruptionBudgets lists PDBs in a namespace.
func (c *Client) ListPodDisruptionBudgets(ctx context.Context, namespace string) (*policyv1.PodDisruptionBudgetList, error) {
	return c.clientset.PolicyV1().PodDisruptionBudgets(namespace).List(ctx, metav1.ListOptions{})
}

// ListHorizontalPodAutoscalers lists HPAs in a namespace.
func (c *Client) ListHorizontalPodAutoscalers(ctx context.Context, namespace string) (*autoscalingv2.HorizontalPodAutoscalerList, error) {
	return c.clientset.AutoscalingV2().HorizontalPodAutoscalers(namespace).List(ctx, metav1.ListOptions{})
}

// ListNetworkPolicies lists NetworkPolicies in a namespace.
func (c *Client) ListNetworkPolicies(ctx context.Context, namespace string) (*networkingv1.NetworkPolicyList, error) {
	return c.clientset.NetworkingV1().NetworkPolicies(namespace).List(ctx, metav1.ListOptions{})
}

func cacheKey(kind, namespace, name string) string {
	return kind + "/" + namespace + "/" + name
}

var _ Interface = (*Client)(nil)
