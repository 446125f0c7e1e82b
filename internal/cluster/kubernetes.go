package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"caravel/internal/manifest"
	"caravel/pkg/logging"
)

// fieldOwner identifies caravel as the manager of applied fields.
const fieldOwner = client.FieldOwner("caravel")

// kindToGVK maps caravel's declarative kinds onto their Kubernetes
// group/version/kind.
var kindToGVK = map[manifest.Kind]schema.GroupVersionKind{
	manifest.KindNamespace:   {Group: "", Version: "v1", Kind: "Namespace"},
	manifest.KindSecret:      {Group: "", Version: "v1", Kind: "Secret"},
	manifest.KindStatefulSet: {Group: "apps", Version: "v1", Kind: "StatefulSet"},
	manifest.KindDeployment:  {Group: "apps", Version: "v1", Kind: "Deployment"},
	manifest.KindService:     {Group: "", Version: "v1", Kind: "Service"},
}

// managedByLabel marks resources caravel applied, so List only reports
// resources the reconciler owns and pruning can never touch anything else.
const managedByLabel = "app.kubernetes.io/managed-by"

// KubeCluster implements Client against a real Kubernetes cluster using a
// controller-runtime client over unstructured objects. Resource kinds come
// from user manifests, not compile-time types, so no typed scheme is
// registered beyond the defaults.
type KubeCluster struct {
	client    client.Client
	namespace string
}

// GetRestConfig returns the Kubernetes REST configuration, preferring
// in-cluster config and falling back to the local kubeconfig.
func GetRestConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no in-cluster config and no home directory: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("building rest config from %s: %w", kubeconfig, err)
	}
	return cfg, nil
}

// IsKubernetesAvailable reports whether a usable rest config exists. Used
// by auto mode to pick between the fake and the real cluster client.
func IsKubernetesAvailable() bool {
	_, err := GetRestConfig()
	return err == nil
}

// NewKubeCluster creates a cluster client from a rest config.
func NewKubeCluster(restConfig *rest.Config, namespace string) (*KubeCluster, error) {
	c, err := client.New(restConfig, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}

	logging.Info("Cluster", "Connected to Kubernetes API at %s", restConfig.Host)
	return &KubeCluster{client: c, namespace: namespace}, nil
}

// Apply implements Client via server-side apply, which gives the idempotent
// upsert-by-identity semantics the reconciler relies on.
func (k *KubeCluster) Apply(ctx context.Context, r manifest.Resource) error {
	obj, err := toUnstructured(r)
	if err != nil {
		return &ApplyError{Key: KeyFor(r), Err: err}
	}

	if err := k.client.Patch(ctx, obj, client.Apply, fieldOwner, client.ForceOwnership); err != nil {
		return &ApplyError{Key: KeyFor(r), Err: err}
	}
	return nil
}

// Get implements Client.
func (k *KubeCluster) Get(ctx context.Context, key Key) (manifest.Resource, error) {
	gvk, ok := kindToGVK[key.Kind]
	if !ok {
		return manifest.Resource{}, fmt.Errorf("unknown kind %s", key.Kind)
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	err := k.client.Get(ctx, client.ObjectKey{Namespace: key.Namespace, Name: key.Name}, obj)
	if apierrors.IsNotFound(err) {
		return manifest.Resource{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return manifest.Resource{}, err
	}

	return fromUnstructured(key.Kind, obj), nil
}

// List implements Client, restricted to resources caravel manages.
func (k *KubeCluster) List(ctx context.Context, namespace string) ([]manifest.Resource, error) {
	if namespace == "" {
		namespace = k.namespace
	}

	var out []manifest.Resource
	for kind, gvk := range kindToGVK {
		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))

		opts := []client.ListOption{client.MatchingLabels{managedByLabel: "caravel"}}
		if namespace != "" && kind != manifest.KindNamespace {
			opts = append(opts, client.InNamespace(namespace))
		}
		if err := k.client.List(ctx, list, opts...); err != nil {
			return nil, err
		}
		for i := range list.Items {
			out = append(out, fromUnstructured(kind, &list.Items[i]))
		}
	}
	return out, nil
}

// Delete implements Client. Only the reconciler's gated pruning calls it.
func (k *KubeCluster) Delete(ctx context.Context, key Key) error {
	gvk, ok := kindToGVK[key.Kind]
	if !ok {
		return fmt.Errorf("unknown kind %s", key.Kind)
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)

	err := k.client.Delete(ctx, obj)
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}

// Status implements Client by reading workload status subresources.
func (k *KubeCluster) Status(ctx context.Context, key Key) (Status, error) {
	gvk, ok := kindToGVK[key.Kind]
	if !ok {
		return Status{}, fmt.Errorf("unknown kind %s", key.Kind)
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	err := k.client.Get(ctx, client.ObjectKey{Namespace: key.Namespace, Name: key.Name}, obj)
	if apierrors.IsNotFound(err) {
		return Status{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Status{}, err
	}

	if !key.Kind.IsWorkload() {
		// Non-workload resources have no readiness signal; applied means
		// ready.
		return Status{Ready: true}, nil
	}

	desired, _, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")
	restarts, _, _ := unstructured.NestedInt64(obj.Object, "status", "restartCount")

	return Status{
		Ready:           desired > 0 && desired == ready,
		DesiredReplicas: int(desired),
		ReadyReplicas:   int(ready),
		Restarts:        int(restarts),
	}, nil
}

// toUnstructured renders a declarative resource as an unstructured object.
func toUnstructured(r manifest.Resource) (*unstructured.Unstructured, error) {
	gvk, ok := kindToGVK[r.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %s", r.Kind)
	}

	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetGroupVersionKind(gvk)
	obj.SetName(r.Name)
	if r.Namespace != "" {
		obj.SetNamespace(r.Namespace)
	}
	obj.SetLabels(map[string]string{managedByLabel: "caravel"})

	spec := map[string]interface{}{}
	for k, v := range r.Spec {
		spec[k] = v
	}
	if r.Kind.IsWorkload() {
		spec["replicas"] = int64(r.Replicas)
		if r.Image != "" {
			if err := unstructured.SetNestedField(spec, r.Image, "template", "spec", "image"); err != nil {
				return nil, err
			}
		}
	}
	if len(spec) > 0 {
		if err := unstructured.SetNestedMap(obj.Object, spec, "spec"); err != nil {
			return nil, err
		}
	}

	// Annotations carry the fields caravel needs to read back for diffing.
	annotations := map[string]string{}
	if r.Artifact != "" {
		annotations["caravel.io/artifact"] = r.Artifact
	}
	if len(annotations) > 0 {
		obj.SetAnnotations(annotations)
	}

	return obj, nil
}

// fromUnstructured recovers the declarative view of a live object.
func fromUnstructured(kind manifest.Kind, obj *unstructured.Unstructured) manifest.Resource {
	r := manifest.Resource{
		Kind:      kind,
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		Artifact:  obj.GetAnnotations()["caravel.io/artifact"],
	}

	if spec, found, _ := unstructured.NestedMap(obj.Object, "spec"); found {
		if kind.IsWorkload() {
			if replicas, ok := spec["replicas"].(int64); ok {
				r.Replicas = int(replicas)
			}
			if image, found, _ := unstructured.NestedString(spec, "template", "spec", "image"); found {
				r.Image = image
			}
			delete(spec, "replicas")
			delete(spec, "template")
		}
		if len(spec) > 0 {
			r.Spec = spec
		}
	}

	return r
}
