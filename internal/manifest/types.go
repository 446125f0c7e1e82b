package manifest

import (
	"reflect"
	"time"
)

// Kind is the declarative resource kind. The set is fixed by the apply
// ordering contract: secrets must exist before the workloads that mount
// them, workloads before the services that front them.
type Kind string

const (
	KindNamespace   Kind = "Namespace"
	KindSecret      Kind = "Secret"
	KindStatefulSet Kind = "StatefulSet"
	KindDeployment  Kind = "Deployment"
	KindService     Kind = "Service"
)

// ApplyRank returns the fixed apply-order rank for a kind. Lower ranks are
// applied first. Unknown kinds apply last, after everything they could
// possibly depend on.
func ApplyRank(k Kind) int {
	switch k {
	case KindNamespace:
		return 0
	case KindSecret:
		return 1
	case KindStatefulSet:
		return 2
	case KindDeployment:
		return 3
	case KindService:
		return 4
	default:
		return 5
	}
}

// IsWorkload reports whether the kind runs artifact images and has replica
// readiness semantics.
func (k Kind) IsWorkload() bool {
	return k == KindDeployment || k == KindStatefulSet
}

// Resource is one declarative resource description inside a revision.
// Identity is Kind/Namespace/Name; everything else is desired state.
type Resource struct {
	Kind      Kind   `yaml:"kind" json:"kind"`
	Name      string `yaml:"name" json:"name"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Artifact names the deployable unit whose digest this resource runs.
	// Empty for resources that carry no image (namespaces, secrets,
	// services).
	Artifact string `yaml:"artifact,omitempty" json:"artifact,omitempty"`

	// Image is the pinned artifact reference "unit@sha256:...". Revisions
	// embed digests, never mutable tags.
	Image string `yaml:"image,omitempty" json:"image,omitempty"`

	// Replicas is the desired replica count for workload kinds.
	Replicas int `yaml:"replicas,omitempty" json:"replicas,omitempty"`

	// Spec holds every remaining field (resource limits, secret refs,
	// ports). The updater carries it through untouched.
	Spec map[string]interface{} `yaml:"spec,omitempty" json:"spec,omitempty"`
}

// Key returns the resource identity "Kind/Namespace/Name".
func (r Resource) Key() string {
	return string(r.Kind) + "/" + r.Namespace + "/" + r.Name
}

// Equal compares full desired state, not just identity.
func (r Resource) Equal(other Resource) bool {
	return reflect.DeepEqual(r, other)
}

// Copy returns a deep copy; revisions are immutable once appended, so
// every mutation path works on copies.
func (r Resource) Copy() Resource {
	out := r
	out.Spec = copyValue(r.Spec).(map[string]interface{})
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		// A nil map stays nil so a copy compares equal to its source.
		if t == nil {
			return t
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

// Revision is one entry in a unit's linear, append-only manifest history.
// Sequence numbers are assigned by the store and are strictly increasing
// and gapless per unit.
type Revision struct {
	Unit   string `yaml:"unit" json:"unit"`
	Seq    int64  `yaml:"seq" json:"seq"`
	Parent int64  `yaml:"parent" json:"parent"`

	// Commit is the source commit whose artifacts this revision references.
	Commit string `yaml:"commit" json:"commit"`

	// RollbackOf is the sequence number this revision reverts, zero for a
	// forward revision. Rollbacks append; they never rewrite history.
	RollbackOf int64 `yaml:"rollbackOf,omitempty" json:"rollbackOf,omitempty"`

	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`

	Resources []Resource `yaml:"resources" json:"resources"`
}

// Copy returns a deep copy of the revision.
func (r Revision) Copy() Revision {
	out := r
	out.Resources = make([]Resource, len(r.Resources))
	for i, res := range r.Resources {
		out.Resources[i] = res.Copy()
	}
	return out
}

// DefaultTemplate is the resource template used for a unit's very first
// revision, before any history exists: a namespace, a pull secret, one
// deployment running the unit's artifact, and a service in front of it.
func DefaultTemplate(unit string) []Resource {
	ns := unit
	return []Resource{
		{Kind: KindNamespace, Name: ns},
		{Kind: KindSecret, Name: unit + "-registry", Namespace: ns},
		{Kind: KindDeployment, Name: unit, Namespace: ns, Artifact: unit, Replicas: 2},
		{Kind: KindService, Name: unit, Namespace: ns, Spec: map[string]interface{}{"port": 80}},
	}
}
