// Package apierrors defines the sentinel error taxonomy shared by every
// libra component. Where containerd/errdefs already has a matching
// sentinel (NotFound, AlreadyExists) callers should wrap so that
// errors.Is(err, errdefs.ErrNotFound) still holds for code that only knows
// about errdefs; everything else is a sentinel of our own since errdefs has
// no equivalent.
package apierrors

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrNotFound wraps errdefs.ErrNotFound: the named pod/container/project
	// was never created. Delete of a missing id succeeds instead.
	ErrNotFound = errdefs.ErrNotFound

	// ErrAlreadyExists wraps errdefs.ErrAlreadyExists: create was called
	// against an identifier already present in the registry.
	ErrAlreadyExists = errdefs.ErrAlreadyExists

	// ErrSpecInvalid: the workload spec failed schema/semantic validation
	// (unknown field, empty name, cyclic depends_on, ...).
	ErrSpecInvalid = errors.New("spec invalid")

	// ErrBundleInvalid: BC could not compose a usable OCI bundle.
	ErrBundleInvalid = errors.New("bundle invalid")

	// ErrRuntimeCreate: ORA.create (runc create) failed.
	ErrRuntimeCreate = errors.New("runtime create failed")

	// ErrRuntimeStart: ORA.start (runc start) failed.
	ErrRuntimeStart = errors.New("runtime start failed")

	// ErrRuntimeDelete: ORA.delete (runc delete) failed.
	ErrRuntimeDelete = errors.New("runtime delete failed")

	// ErrCgroupProgram: CP could not apply the cgroup v2 resource limits.
	ErrCgroupProgram = errors.New("cgroup programming failed")

	// ErrNetworkSetupFailed: NS.attach (CNI ADD, bridge creation) failed.
	ErrNetworkSetupFailed = errors.New("network setup failed")

	// ErrNetworkTeardownFailed: NS.detach (CNI DEL) failed; caller proceeds
	// best-effort per the concurrency model in §5.
	ErrNetworkTeardownFailed = errors.New("network teardown failed")

	// ErrNamespaceShareFailed: a worker container's config.json could not be
	// rewritten to share the pause container's namespaces.
	ErrNamespaceShareFailed = errors.New("namespace share failed")

	// ErrTimeout: a context deadline elapsed during an ORA/CNI/filesystem
	// call.
	ErrTimeout = errors.New("operation timed out")

	// ErrCycleDetected: CT's depends_on graph is not a DAG.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrInternal: an invariant was violated that should be unreachable in
	// correct operation (e.g. a registry entry missing its lock).
	ErrInternal = errors.New("internal error")
)

// NotFound wraps err as "kind name not found", satisfying
// errors.Is(_, ErrNotFound) and errors.Is(_, errdefs.ErrNotFound).
func NotFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// AlreadyExists wraps err as "kind name already exists".
func AlreadyExists(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrAlreadyExists)
}

// Wrap annotates sentinel with a message and the original cause, preserving
// errors.Is/errors.As on both.
func Wrap(sentinel error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return fmt.Errorf("%s: %w: %v", msg, sentinel, cause)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is or wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsTimeout reports whether err is or wraps ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
