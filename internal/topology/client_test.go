package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

func namespaceObj(name string, labels map[string]string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
	}
}

func deploymentObj(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"namespace": namespace,
			"name":      name,
		},
	}}
}

func TestClient_GetNamespace(t *testing.T) {
	clientset := fake.NewClientset(namespaceObj("payments-prod", map[string]string{"environment": "production"}))
	c := New(clientset, dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), DefaultConfig())

	ns, err := c.GetNamespace(context.Background(), "payments-prod")
	require.NoError(t, err)
	assert.Equal(t, "production", ns.Labels["environment"])

	_, err = c.GetNamespace(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClient_GetCachesRepeatedReads(t *testing.T) {
	clientset := fake.NewClientset(namespaceObj("payments-prod", nil))
	c := New(clientset, dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), DefaultConfig())

	_, err := c.GetNamespace(context.Background(), "payments-prod")
	require.NoError(t, err)

	// The object is gone from the API but the cached read still serves it.
	require.NoError(t, clientset.CoreV1().Namespaces().Delete(context.Background(), "payments-prod", metav1.DeleteOptions{}))
	ns, err := c.GetNamespace(context.Background(), "payments-prod")
	require.NoError(t, err)
	assert.Equal(t, "payments-prod", ns.Name)
}

func TestClient_ZeroCacheSizeDisablesCaching(t *testing.T) {
	clientset := fake.NewClientset(namespaceObj("payments-prod", nil))
	c := New(clientset, dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), Config{CacheSize: 0, CacheTTL: time.Minute})

	_, err := c.GetNamespace(context.Background(), "payments-prod")
	require.NoError(t, err)

	require.NoError(t, clientset.CoreV1().Namespaces().Delete(context.Background(), "payments-prod", metav1.DeleteOptions{}))
	_, err = c.GetNamespace(context.Background(), "payments-prod")
	assert.Error(t, err)
}

func TestClient_GetPodAndNode(t *testing.T) {
	clientset := fake.NewClientset(
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "payments-prod", Name: "web-0"}},
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}},
	)
	c := New(clientset, dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), DefaultConfig())

	pod, err := c.GetPod(context.Background(), "payments-prod", "web-0")
	require.NoError(t, err)
	assert.Equal(t, "web-0", pod.Name)

	node, err := c.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.Name)
}

func TestClient_GetWorkload(t *testing.T) {
	dyn := dynamicfake.NewSimpleDynamicClient(runtime.NewScheme(), deploymentObj("payments-prod", "web"))
	c := New(fake.NewClientset(), dyn, DefaultConfig())

	u, err := c.GetWorkload(context.Background(), "payments-prod", "Deployment", "web")
	require.NoError(t, err)
	assert.Equal(t, "web", u.GetName())

	_, err = c.GetWorkload(context.Background(), "payments-prod", "Service", "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported workload kind")
}

func TestClient_ListPodDisruptionBudgets(t *testing.T) {
	clientset := fake.NewClientset(&policyv1.PodDisruptionBudget{
		ObjectMeta: metav1.ObjectMeta{Namespace: "payments-prod", Name: "web-pdb"},
	})
	c := New(clientset, dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), DefaultConfig())

	pdbs, err := c.ListPodDisruptionBudgets(context.Background(), "payments-prod")
	require.NoError(t, err)
	require.Len(t, pdbs.Items, 1)
	assert.Equal(t, "web-pdb", pdbs.Items[0].Name)

	empty, err := c.ListPodDisruptionBudgets(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
}

func TestWorkloadKinds(t *testing.T) {
	for _, kind := range []string{"Deployment", "StatefulSet", "DaemonSet", "ReplicaSet", "Job", "CronJob"} {
		assert.True(t, IsWorkloadKind(kind), kind)
		gvr, ok := WorkloadGVR(kind)
		assert.True(t, ok)
		assert.NotEmpty(t, gvr.Resource)
	}
	assert.False(t, IsWorkloadKind("Pod"))
	assert.False(t, IsWorkloadKind("Service"))
}
