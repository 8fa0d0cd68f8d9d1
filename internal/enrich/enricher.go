// Package enrich fetches the topology snapshot for a work item. The fetch
// set is driven by the signal's target kind and is deliberately fixed: no
// caller-configurable depth, so worst-case latency and API call volume stay
// bounded. Sub-fetch failures degrade the result instead of failing it.
package enrich

import (
	"context"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/topology"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Config holds enricher configuration.
type Config struct {
	// Timeout bounds one whole Enrich call, covering all sub-fetches.
	Timeout time.Duration
}

// DefaultConfig returns the default enricher configuration.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// Enricher produces the TopologyContext for a work item.
type Enricher struct {
	client topology.Interface
	cfg    Config
	logger *logging.Logger
}

// New creates an enricher backed by the given topology client.
func New(client topology.Interface, cfg Config) *Enricher {
	return &Enricher{
		client: client,
		cfg:    cfg,
		logger: logging.GetLogger("enrich.enricher"),
	}
}

// Enrich fetches the fixed, target-kind-driven object set for the item's
// signal:
//
//	Pod            -> namespace + pod + node + owning workload
//	workload kinds -> namespace + workload
//	Node           -> node only
//	anything else  -> namespace only
//
// Sub-fetch failures never fail the call: the corresponding field stays
// nil, the context is marked degraded and the missing field is recorded.
func (e *Enricher) Enrich(ctx context.Context, item *signal.WorkItem) *signal.TopologyContext {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	target := item.Signal.Target
	tc := &signal.TopologyContext{}

	switch {
	case target.Kind == "Pod":
		e.fetchNamespace(ctx, tc, target.Namespace)
		pod := e.fetchPod(ctx, tc, target.Namespace, target.Name)
		if pod != nil {
			if pod.Spec.NodeName != "" {
				e.fetchNode(ctx, tc, pod.Spec.NodeName)
			}
			e.fetchPodOwnerWorkload(ctx, tc, pod)
		}

	case topology.IsWorkloadKind(target.Kind):
		e.fetchNamespace(ctx, tc, target.Namespace)
		e.fetchWorkload(ctx, tc, target.Namespace, target.Kind, target.Name)

	case target.Kind == "Node":
		e.fetchNode(ctx, tc, target.Name)

	default:
		e.logger.Debug("Unrecognized target kind %q, fetching namespace only", target.Kind)
		e.fetchNamespace(ctx, tc, target.Namespace)
	}

	return tc
}

func (e *Enricher) markMissing(tc *signal.TopologyContext, field string, err error) {
	tc.Degraded = true
	tc.MissingFields = append(tc.MissingFields, field)
	e.logger.WarnWithFields("topology sub-fetch failed, continuing degraded",
		logging.Field("field", field),
		logging.Field("error", err.Error()),
	)
}

func (e *Enricher) fetchNamespace(ctx context.Context, tc *signal.TopologyContext, name string) {
	if name == "" {
		return
	}
	ns, err := e.client.GetNamespace(ctx, name)
	if err != nil {
		e.markMissing(tc, "namespace", err)
		return
	}
	tc.Namespace = &signal.ObjectMeta{
		Name:        ns.Name,
		Labels:      ns.Labels,
		Annotations: ns.Annotations,
	}
}

func (e *Enricher) fetchPod(ctx context.Context, tc *signal.TopologyContext, namespace, name string) *corev1.Pod {
	pod, err := e.client.GetPod(ctx, namespace, name)
	if err != nil {
		e.markMissing(tc, "pod", err)
		return nil
	}
	tc.Pod = &signal.PodSnapshot{
		ObjectMeta: signal.ObjectMeta{
			Name:        pod.Name,
			Namespace:   pod.Namespace,
			Labels:      pod.Labels,
			Annotations: pod.Annotations,
		},
		NodeName: pod.Spec.NodeName,
		Phase:    string(pod.Status.Phase),
	}
	return pod
}

func (e *Enricher) fetchNode(ctx context.Context, tc *signal.TopologyContext, name string) {
	node, err := e.client.GetNode(ctx, name)
	if err != nil {
		e.markMissing(tc, "node", err)
		return
	}
	tc.Node = &signal.NodeSnapshot{
		ObjectMeta: signal.ObjectMeta{
			Name:        node.Name,
			Labels:      node.Labels,
			Annotations: node.Annotations,
		},
		Ready: nodeReady(node),
	}
}

// fetchPodOwnerWorkload resolves the pod's controlling owner and, when it
// is a supported workload kind, fetches it into the snapshot.
func (e *Enricher) fetchPodOwnerWorkload(ctx context.Context, tc *signal.TopologyContext, pod *corev1.Pod) {
	for i := range pod.OwnerReferences {
		ref := &pod.OwnerReferences[i]
		if ref.Controller == nil || !*ref.Controller {
			continue
		}
		if !topology.IsWorkloadKind(ref.Kind) {
			e.logger.Debug("Pod %s/%s owned by unsupported kind %s, skipping workload fetch",
				pod.Namespace, pod.Name, ref.Kind)
			return
		}
		e.fetchWorkload(ctx, tc, pod.Namespace, ref.Kind, ref.Name)
		return
	}
}

func (e *Enricher) fetchWorkload(ctx context.Context, tc *signal.TopologyContext, namespace, kind, name string) {
	obj, err := e.client.GetWorkload(ctx, namespace, kind, name)
	if err != nil {
		e.markMissing(tc, "workload", err)
		return
	}
	tc.Workload = &signal.WorkloadSnapshot{
		ObjectMeta: signal.ObjectMeta{
			Name:        obj.GetName(),
			Namespace:   obj.GetNamespace(),
			Labels:      obj.GetLabels(),
			Annotations: obj.GetAnnotations(),
		},
		Kind:     kind,
		Replicas: workloadReplicas(obj),
	}
}

func workloadReplicas(obj *unstructured.Unstructured) int64 {
	replicas, found, err := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if !found || err != nil {
		return 0
	}
	return replicas
}

func nodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
