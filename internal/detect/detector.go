// Package detect computes deterministic cluster-characteristic facts about
// a work item's target from the enriched topology snapshot. Each
// characteristic is either derived purely from already-fetched
// labels/annotations or backed by one namespace-scoped list query.
//
// The detector never fails a reconciliation. When a backing query fails the
// characteristic keeps its false default and the failure is recorded in
// FailedDetections, so operators can tell "nothing to detect" apart from
// "couldn't detect, check RBAC or API availability".
package detect

import (
	"context"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/topology"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// Well-known labels and annotations read by the pure-inspection detectors.
const (
	argoCDInstanceLabel  = "argocd.argoproj.io/instance"
	fluxKustomizeLabel   = "kustomize.toolkit.fluxcd.io/name"
	fluxHelmLabel        = "helm.toolkit.fluxcd.io/name"
	managedByLabel       = "app.kubernetes.io/managed-by"
	helmReleaseAnno      = "meta.helm.sh/release-name"
	istioSidecarAnno     = "sidecar.istio.io/status"
	linkerdProxyAnno     = "linkerd.io/proxy-version"
	linkerdInjectedLabel = "linkerd.io/control-plane-ns"
)

// Detector evaluates the fixed characteristic predicate set.
type Detector struct {
	client  topology.Interface
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New creates a detector. The metrics parameter may be nil.
func New(client topology.Interface, m *metrics.Metrics) *Detector {
	return &Detector{
		client:  client,
		metrics: m,
		logger:  logging.GetLogger("detect.detector"),
	}
}

// Detect computes all characteristics from the topology snapshot and the
// owner chain. It always returns a result; query failures are recorded as
// failed detections rather than propagated.
func (d *Detector) Detect(ctx context.Context, tc *signal.TopologyContext, chain signal.OwnerChain) *signal.DetectedCharacteristics {
	chars := &signal.DetectedCharacteristics{}

	d.detectGitOps(tc, chars)
	d.detectHelm(tc, chars)
	d.detectMesh(tc, chars)
	d.detectStateful(tc, chain, chars)

	// The list-query detectors are namespace scoped. A cluster-scoped
	// target has nothing to query against; that is an absent
	// characteristic, not a failed one.
	namespace := tc.NamespaceName()
	if namespace == "" && tc.Pod != nil {
		namespace = tc.Pod.Namespace
	}
	if namespace != "" {
		d.detectPDBProtection(ctx, namespace, tc, chars)
		d.detectAutoscaler(ctx, namespace, tc, chain, chars)
		d.detectNetworkIsolation(ctx, namespace, chars)
	}

	return chars
}

// markFailed records a query failure for one characteristic. The value
// field keeps its false default; the failure marker is the only signal.
func (d *Detector) markFailed(chars *signal.DetectedCharacteristics, name string, err error) {
	chars.FailedDetections = append(chars.FailedDetections, name)
	if d.metrics != nil {
		d.metrics.DetectionFailures.WithLabelValues(name).Inc()
	}
	d.logger.WarnWithFields("characteristic query failed, recording failed detection",
		logging.Field("characteristic", name),
		logging.Field("error", err.Error()),
	)
}

func (d *Detector) detectGitOps(tc *signal.TopologyContext, chars *signal.DetectedCharacteristics) {
	for _, meta := range inspectionOrder(tc) {
		if _, ok := meta.Labels[argoCDInstanceLabel]; ok {
			chars.GitOpsManaged = true
			chars.GitOpsTool = "argocd"
			return
		}
		if _, ok := meta.Labels[fluxKustomizeLabel]; ok {
			chars.GitOpsManaged = true
			chars.GitOpsTool = "flux"
			return
		}
		if _, ok := meta.Labels[fluxHelmLabel]; ok {
			chars.GitOpsManaged = true
			chars.GitOpsTool = "flux"
			return
		}
	}
}

func (d *Detector) detectHelm(tc *signal.TopologyContext, chars *signal.DetectedCharacteristics) {
	for _, meta := range inspectionOrder(tc) {
		if meta.Labels[managedByLabel] == "Helm" {
			chars.HelmManaged = true
			return
		}
		if _, ok := meta.Annotations[helmReleaseAnno]; ok {
			chars.HelmManaged = true
			return
		}
	}
}

func (d *Detector) detectMesh(tc *signal.TopologyContext, chars *signal.DetectedCharacteristics) {
	if tc.Pod == nil {
		return
	}
	if _, ok := tc.Pod.Annotations[istioSidecarAnno]; ok {
		chars.MeshInjected = true
		chars.MeshName = "istio"
		return
	}
	if _, ok := tc.Pod.Annotations[linkerdProxyAnno]; ok {
		chars.MeshInjected = true
		chars.MeshName = "linkerd"
		return
	}
	if _, ok := tc.Pod.Labels[linkerdInjectedLabel]; ok {
		chars.MeshInjected = true
		chars.MeshName = "linkerd"
	}
}

func (d *Detector) detectStateful(tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics) {
	if chain.ContainsKind("StatefulSet") {
		chars.Stateful = true
		return
	}
	if tc.Workload != nil && tc.Workload.Kind == "StatefulSet" {
		chars.Stateful = true
	}
}

// detectPDBProtection checks whether any PodDisruptionBudget in the
// namespace selects the target's labels.
func (d *Detector) detectPDBProtection(ctx context.Context, namespace string, tc *signal.TopologyContext, chars *signal.DetectedCharacteristics) {
	targetLabels := targetPodLabels(tc)
	if len(targetLabels) == 0 {
		return
	}

	pdbs, err := d.client.ListPodDisruptionBudgets(ctx, namespace)
	if err != nil {
		d.markFailed(chars, signal.CharacteristicPDBProtected, err)
		return
	}

	for i := range pdbs.Items {
		selector, err := metav1.LabelSelectorAsSelector(pdbs.Items[i].Spec.Selector)
		if err != nil {
			continue
		}
		if selector.Matches(labels.Set(targetLabels)) {
			chars.PDBProtected = true
			return
		}
	}
}

// detectAutoscaler checks whether any HorizontalPodAutoscaler in the
// namespace targets the enriched workload or an owner-chain ancestor.
func (d *Detector) detectAutoscaler(ctx context.Context, namespace string, tc *signal.TopologyContext, chain signal.OwnerChain, chars *signal.DetectedCharacteristics) {
	hpas, err := d.client.ListHorizontalPodAutoscalers(ctx, namespace)
	if err != nil {
		d.markFailed(chars, signal.CharacteristicAutoscalerEnabled, err)
		return
	}

	for i := range hpas.Items {
		ref := hpas.Items[i].Spec.ScaleTargetRef
		if tc.Workload != nil && ref.Kind == tc.Workload.Kind && ref.Name == tc.Workload.Name {
			chars.AutoscalerEnabled = true
			return
		}
		for _, entry := range chain {
			if ref.Kind == entry.Kind && ref.Name == entry.Name {
				chars.AutoscalerEnabled = true
				return
			}
		}
	}
}

// detectNetworkIsolation checks for the presence of any NetworkPolicy in
// the namespace. Zero policies is a legitimate false, not a failure.
func (d *Detector) detectNetworkIsolation(ctx context.Context, namespace string, chars *signal.DetectedCharacteristics) {
	policies, err := d.client.ListNetworkPolicies(ctx, namespace)
	if err != nil {
		d.markFailed(chars, signal.CharacteristicNetworkIsolated, err)
		return
	}
	chars.NetworkIsolated = len(policies.Items) > 0
}

// inspectionOrder yields the metadata holders most specific first: the
// workload speaks for how the target is deployed, then the pod, then the
// namespace.
func inspectionOrder(tc *signal.TopologyContext) []*signal.ObjectMeta {
	var out []*signal.ObjectMeta
	if tc.Workload != nil {
		out = append(out, &tc.Workload.ObjectMeta)
	}
	if tc.Pod != nil {
		out = append(out, &tc.Pod.ObjectMeta)
	}
	if tc.Namespace != nil {
		out = append(out, tc.Namespace)
	}
	return out
}

func targetPodLabels(tc *signal.TopologyContext) map[string]string {
	if tc.Pod != nil && len(tc.Pod.Labels) > 0 {
		return tc.Pod.Labels
	}
	if tc.Workload != nil {
		return tc.Workload.Labels
	}
	return nil
}
