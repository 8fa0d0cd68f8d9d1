// Package ownerchain resolves the controller-owner ancestry of a cluster
// resource. Ownership data is best-effort context for classification, never
// a hard dependency: fetch errors yield the partial chain accumulated so
// far instead of failing.
package ownerchain

import (
	"context"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/topology"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

var podGVR = schema.GroupVersionResource{Group: "", Version: "v1", Resource: "pods"}

// clusterScopedOwnerKinds lists owner kinds that are not namespaced. Their
// chain entries carry an empty namespace.
var clusterScopedOwnerKinds = map[string]bool{
	"Node": true,
}

// Builder traverses controller owner references upward from a source
// resource.
type Builder struct {
	dynamicClient dynamic.Interface
	logger        *logging.Logger
}

// New creates an owner-chain builder.
func New(dynamicClient dynamic.Interface) *Builder {
	return &Builder{
		dynamicClient: dynamicClient,
		logger:        logging.GetLogger("ownerchain.builder"),
	}
}

// Build returns the ordered ancestor chain of the given resource, nearest
// owner first. The source resource is never included, the chain length is
// bounded by signal.MaxOwnerChainDepth, and a fetch error at any level
// returns the partial chain accumulated so far.
func (b *Builder) Build(ctx context.Context, namespace, kind, name string) signal.OwnerChain {
	chain := signal.OwnerChain{}

	curNamespace, curKind, curName := namespace, kind, name
	for len(chain) < signal.MaxOwnerChainDepth {
		gvr, ok := gvrFor(curKind)
		if !ok {
			// Unknown kind, cannot traverse further. The entry for this
			// resource (if it is an owner) is already in the chain.
			b.logger.Debug("Stopping owner traversal at unknown kind %s", curKind)
			return chain
		}

		obj, err := b.dynamicClient.Resource(gvr).Namespace(curNamespace).Get(ctx, curName, metav1.GetOptions{})
		if err != nil {
			b.logger.Debug("Owner lookup for %s %s/%s failed, returning partial chain: %v",
				curKind, curNamespace, curName, err)
			return chain
		}

		owner := controllerOwner(obj.GetOwnerReferences())
		if owner == nil {
			return chain
		}

		ownerNamespace := curNamespace
		if clusterScopedOwnerKinds[owner.Kind] {
			ownerNamespace = ""
		}

		chain = append(chain, signal.OwnerChainEntry{
			Namespace: ownerNamespace,
			Kind:      owner.Kind,
			Name:      owner.Name,
		})

		curNamespace, curKind, curName = ownerNamespace, owner.Kind, owner.Name
	}

	return chain
}

// controllerOwner selects the single owner reference flagged as the
// controlling owner. Non-controller references are ignored.
func controllerOwner(refs []metav1.OwnerReference) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Controller != nil && *refs[i].Controller {
			return &refs[i]
		}
	}
	return nil
}

// gvrFor resolves the resource for kinds the traversal understands: pods
// plus the supported workload kinds.
func gvrFor(kind string) (schema.GroupVersionResource, bool) {
	if kind == "Pod" {
		return podGVR, true
	}
	return topology.WorkloadGVR(kind)
}
