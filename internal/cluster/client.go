package cluster

import (
	"context"
	"errors"
	"fmt"

	"caravel/internal/manifest"
)

// ErrNotFound is returned for lookups of resources not live in the cluster.
var ErrNotFound = errors.New("resource not found in cluster")

// Key identifies a live resource: Kind/Namespace/Name.
type Key struct {
	Kind      manifest.Kind
	Namespace string
	Name      string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.Namespace + "/" + k.Name
}

// KeyFor returns the identity key of a declarative resource.
func KeyFor(r manifest.Resource) Key {
	return Key{Kind: r.Kind, Namespace: r.Namespace, Name: r.Name}
}

// Status is a point-in-time health snapshot of one live resource.
type Status struct {
	// Ready reports whether the resource is serving. For workloads this
	// requires desired == ready replicas; resources with no readiness
	// signal count as ready once applied.
	Ready bool

	// DesiredReplicas and ReadyReplicas carry workload replica state.
	DesiredReplicas int
	ReadyReplicas   int

	// Restarts is the cumulative container restart count, used for
	// crash-loop detection.
	Restarts int
}

// Client is the cluster control plane collaborator: declarative apply,
// read, and status. Deletion exists only for the reconciler's explicitly
// gated pruning; nothing else in the core removes live state.
//
// Apply must be an idempotent upsert by resource identity: applying an
// already-converged resource again is a no-op.
type Client interface {
	Apply(ctx context.Context, r manifest.Resource) error
	Get(ctx context.Context, key Key) (manifest.Resource, error)
	List(ctx context.Context, namespace string) ([]manifest.Resource, error)
	Delete(ctx context.Context, key Key) error
	Status(ctx context.Context, key Key) (Status, error)
}

// ApplyError wraps a per-resource apply failure with its identity, so sync
// records can name the resource that aborted the pass.
type ApplyError struct {
	Key Key
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Key, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
