package resource

import (
	"time"
)

// Phase identifies where a resource currently sits in its lifecycle.
//
// The set of phases is domain-defined: each controller declares the phases
// it handles when it is constructed. The framework reserves only PhaseFailed,
// which marks a resource that needs manual intervention and is never
// dispatched to a handler.
type Phase string

// PhaseFailed is the terminal phase set by the controller when a handler
// reports an unrecoverable condition. Resources in this phase are not
// reconciled again until an operator resets them.
const PhaseFailed Phase = "Failed"

// Metadata holds the identifying and bookkeeping fields of a resource.
//
// Identity is (Namespace, Name). ResourceVersion increases on every accepted
// write and is the basis for conditional updates; callers must treat it as
// opaque apart from comparing equality.
type Metadata struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`

	// UID is assigned by the store on create and never changes.
	UID string `json:"uid,omitempty"`

	// ResourceVersion is the per-resource optimistic concurrency token.
	ResourceVersion int64 `json:"resourceVersion,omitempty"`

	// Generation increments when the spec changes.
	Generation int64 `json:"generation,omitempty"`

	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// Finalizers lists cleanup obligations that block physical deletion.
	// Order is preserved; finalizers run in declaration order.
	Finalizers []string `json:"finalizers,omitempty"`

	CreationTimestamp time.Time `json:"creationTimestamp,omitempty"`

	// DeletionTimestamp marks the resource for deletion. It blocks nothing
	// by itself; the resource is physically removed only once Finalizers
	// is empty.
	DeletionTimestamp *time.Time `json:"deletionTimestamp,omitempty"`
}

// Deleting reports whether deletion has been requested for the resource.
func (m *Metadata) Deleting() bool {
	return m.DeletionTimestamp != nil
}

// HasFinalizer reports whether the named finalizer is present.
func (m *Metadata) HasFinalizer(name string) bool {
	for _, f := range m.Finalizers {
		if f == name {
			return true
		}
	}
	return false
}

// AddFinalizer appends the named finalizer if it is not already present.
// It returns true if the list changed.
func (m *Metadata) AddFinalizer(name string) bool {
	if m.HasFinalizer(name) {
		return false
	}
	m.Finalizers = append(m.Finalizers, name)
	return true
}

// RemoveFinalizer removes the named finalizer, preserving the order of the
// remaining entries. It returns true if the list changed.
func (m *Metadata) RemoveFinalizer(name string) bool {
	for i, f := range m.Finalizers {
		if f == name {
			m.Finalizers = append(m.Finalizers[:i], m.Finalizers[i+1:]...)
			return true
		}
	}
	return false
}

// Spec is the domain-opaque desired state of a resource. External actors may
// rewrite it at any time; the controller only reads it.
type Spec map[string]any

// Status is the observed state of a resource. Only the controller writes it.
type Status struct {
	Phase      Phase       `json:"phase,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`

	// Fields carries domain-specific observations (addresses, counters...).
	Fields map[string]any `json:"fields,omitempty"`
}

// Resource is a declaratively managed external entity.
type Resource struct {
	Metadata Metadata `json:"metadata"`
	Spec     Spec     `json:"spec,omitempty"`
	Status   Status   `json:"status,omitempty"`
}

// Key returns the store key for the resource, "namespace/name".
func (r *Resource) Key() string {
	return Key(r.Metadata.Namespace, r.Metadata.Name)
}

// Key builds the canonical "namespace/name" key.
func Key(namespace, name string) string {
	return namespace + "/" + name
}

// DeepCopy returns an independent copy of the resource. The store hands out
// and accepts copies so callers can never alias its internal state.
func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	out := &Resource{Metadata: r.Metadata}

	out.Metadata.Labels = copyStringMap(r.Metadata.Labels)
	out.Metadata.Annotations = copyStringMap(r.Metadata.Annotations)
	if r.Metadata.Finalizers != nil {
		out.Metadata.Finalizers = append([]string(nil), r.Metadata.Finalizers...)
	}
	if r.Metadata.DeletionTimestamp != nil {
		ts := *r.Metadata.DeletionTimestamp
		out.Metadata.DeletionTimestamp = &ts
	}

	out.Spec = copyAnyMap(r.Spec)

	out.Status.Phase = r.Status.Phase
	if r.Status.Conditions != nil {
		out.Status.Conditions = append([]Condition(nil), r.Status.Conditions...)
	}
	out.Status.Fields = copyAnyMap(r.Status.Fields)

	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// copyAnyMap copies one level deep. Nested maps and slices are copied
// recursively when they use the plain map[string]any / []any shapes that
// survive a JSON or YAML round-trip.
func copyAnyMap[M ~map[string]any](in M) M {
	if in == nil {
		return nil
	}
	out := make(M, len(in))
	for k, v := range in {
		out[k] = copyAnyValue(v)
	}
	return out
}

func copyAnyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyAnyValue(e)
		}
		return out
	default:
		return v
	}
}
