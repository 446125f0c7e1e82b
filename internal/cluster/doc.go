// Package cluster abstracts the cluster control plane behind a small
// declarative Client: idempotent apply by resource identity, read, status,
// and an explicitly-gated delete used only for pruning.
//
// Two implementations exist. FakeCluster is an in-memory, fully scriptable
// cluster for tests and local mode: readiness, restart counts, apply
// failures and out-of-band drift are all injectable. KubeCluster talks to
// a real cluster through a controller-runtime client over unstructured
// objects, applying with server-side apply under the "caravel" field owner
// and restricting List to resources labeled as caravel-managed.
//
// Live deployed state is modeled as an external, eventually-convergent
// resource; nothing in this package holds cluster state in process.
package cluster
