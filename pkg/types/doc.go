// Package types defines the data structures shared by every other package:
// container and pod specs, their runtime records, compose projects, node
// assignments, and the small enums (phases, states, restart/health policy)
// that drive them.
//
// Specs (ContainerSpec, PodSpec, ComposeSpec) describe desired state and are
// decoded from YAML by pkg/specfile. Records (ContainerRecord, PodRecord,
// ProjectRecord) describe observed state and are persisted by pkg/store as
// JSON. Assignment is the unit NA receives from a control plane and hands to
// pkg/reconciler as a reconciler.Desired.
package types
