package store

import (
	"context"
	"fmt"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// SignalProcessingGVR identifies the custom resource that carries work
// items: created by the upstream gateway, reconciled here, read by
// downstream consumers.
var SignalProcessingGVR = schema.GroupVersionResource{
	Group:    "kubernaut.io",
	Version:  "v1alpha1",
	Resource: "signalprocessings",
}

const signalProcessingKind = "SignalProcessing"

// KubeStore persists work items as SignalProcessing custom resources.
type KubeStore struct {
	client dynamic.Interface
}

// NewKubeStore creates a store over the given dynamic client.
func NewKubeStore(client dynamic.Interface) *KubeStore {
	return &KubeStore{client: client}
}

// Get fetches and converts the backing custom resource.
func (s *KubeStore) Get(ctx context.Context, key Key) (*signal.WorkItem, error) {
	u, err := s.client.Resource(SignalProcessingGVR).Namespace(key.Namespace).Get(ctx, key.Name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return fromUnstructured(u)
}

// UpdateStatus writes the status subresource. The server rejects the write
// with a conflict error when the resource version is stale.
func (s *KubeStore) UpdateStatus(ctx context.Context, item *signal.WorkItem) error {
	u, err := toUnstructured(item)
	if err != nil {
		return err
	}
	updated, err := s.client.Resource(SignalProcessingGVR).Namespace(item.Namespace).UpdateStatus(ctx, u, metav1.UpdateOptions{})
	if err != nil {
		return err
	}
	item.ResourceVersion = updated.GetResourceVersion()
	return nil
}

// ListActive lists all SignalProcessing objects across namespaces and
// returns the keys of those in a non-terminal phase.
func (s *KubeStore) ListActive(ctx context.Context) ([]Key, error) {
	list, err := s.client.Resource(SignalProcessingGVR).Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(list.Items))
	for i := range list.Items {
		phase, _, _ := unstructured.NestedString(list.Items[i].Object, "status", "phase")
		if phase == "" {
			phase = string(signal.PhasePending)
		}
		if signal.Phase(phase).Terminal() {
			continue
		}
		keys = append(keys, Key{
			Namespace: list.Items[i].GetNamespace(),
			Name:      list.Items[i].GetName(),
		})
	}
	return keys, nil
}

func fromUnstructured(u *unstructured.Unstructured) (*signal.WorkItem, error) {
	item := &signal.WorkItem{
		ID:              string(u.GetUID()),
		Namespace:       u.GetNamespace(),
		Name:            u.GetName(),
		ResourceVersion: u.GetResourceVersion(),
		Phase:           signal.PhasePending,
	}

	if sigMap, found, _ := unstructured.NestedMap(u.Object, "spec", "signal"); found {
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(sigMap, &item.Signal); err != nil {
			return nil, fmt.Errorf("failed to decode signal spec of %s/%s: %w", item.Namespace, item.Name, err)
		}
	}

	if phase, found, _ := unstructured.NestedString(u.Object, "status", "phase"); found && phase != "" {
		item.Phase = signal.Phase(phase)
	}
	if attempts, found, _ := unstructured.NestedInt64(u.Object, "status", "attempts"); found {
		item.Attempts = int(attempts)
	}
	if reason, found, _ := unstructured.NestedString(u.Object, "status", "failureReason"); found {
		item.FailureReason = reason
	}
	if category, found, _ := unstructured.NestedString(u.Object, "status", "failureCategory"); found {
		item.FailureCategory = signal.ErrorCategory(category)
	}
	if resultMap, found, _ := unstructured.NestedMap(u.Object, "status", "result"); found {
		result := &signal.Result{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(resultMap, result); err != nil {
			return nil, fmt.Errorf("failed to decode result of %s/%s: %w", item.Namespace, item.Name, err)
		}
		item.Result = result
	}

	return item, nil
}

func toUnstructured(item *signal.WorkItem) (*unstructured.Unstructured, error) {
	u := &unstructured.Unstructured{Object: map[string]interface{}{}}
	u.SetAPIVersion(SignalProcessingGVR.Group + "/" + SignalProcessingGVR.Version)
	u.SetKind(signalProcessingKind)
	u.SetNamespace(item.Namespace)
	u.SetName(item.Name)
	u.SetResourceVersion(item.ResourceVersion)

	sigMap, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&item.Signal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal spec: %w", err)
	}
	if err := unstructured.SetNestedMap(u.Object, sigMap, "spec", "signal"); err != nil {
		return nil, err
	}

	status := map[string]interface{}{
		"phase":    string(item.Phase),
		"attempts": int64(item.Attempts),
	}
	if item.FailureReason != "" {
		status["failureReason"] = item.FailureReason
	}
	if item.FailureCategory != "" {
		status["failureCategory"] = string(item.FailureCategory)
	}
	if item.Result != nil {
		resultMap, err := runtime.DefaultUnstructuredConverter.ToUnstructured(item.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		status["result"] = resultMap
	}
	if err := unstructured.SetNestedMap(u.Object, status, "status"); err != nil {
		return nil, err
	}

	return u, nil
}

var _ Interface = (*KubeStore)(nil)
