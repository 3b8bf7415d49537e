// Package ociruntime adapts github.com/containerd/go-runc's binding to the
// create/start/state/delete/exec/kill contract the pod and container
// managers drive their state machines with.
package ociruntime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/types"
)

// Adapter drives a single runc binary against a fixed state root.
type Adapter struct {
	runc *runc.Runc
}

// New returns an Adapter whose runc invocations keep their state under
// stateRoot (e.g. /run/libra/runc).
func New(stateRoot string) *Adapter {
	return &Adapter{
		runc: &runc.Runc{
			Root:      stateRoot,
			Log:       "",
			LogFormat: runc.JSON,
		},
	}
}

// Create runs `runc create` against bundleDir, returning once the
// container's init process is created but not yet started.
func (a *Adapter) Create(ctx context.Context, containerID, bundleDir string) error {
	if err := a.runc.Create(ctx, containerID, bundleDir, &runc.CreateOpts{
		Detach: true,
	}); err != nil {
		return apierrors.Wrap(apierrors.ErrRuntimeCreate, fmt.Sprintf("runc create %s", containerID), err)
	}
	return nil
}

// Start runs `runc start`.
func (a *Adapter) Start(ctx context.Context, containerID string) error {
	if err := a.runc.Start(ctx, containerID); err != nil {
		return apierrors.Wrap(apierrors.ErrRuntimeStart, fmt.Sprintf("runc start %s", containerID), err)
	}
	return nil
}

// State runs `runc state` and translates the reported status into a
// types.ContainerState.
func (a *Adapter) State(ctx context.Context, containerID string) (types.ContainerState, int, error) {
	st, err := a.runc.State(ctx, containerID)
	if err != nil {
		return types.ContainerStateFailed, 0, apierrors.NotFound("container", containerID)
	}
	return translateStatus(st.Status), st.Pid, nil
}

func translateStatus(status string) types.ContainerState {
	switch status {
	case "created":
		return types.ContainerStateCreated
	case "running":
		return types.ContainerStateRunning
	case "stopped":
		return types.ContainerStateStopped
	default:
		return types.ContainerStateFailed
	}
}

// Kill sends sig, used by Stop's graceful-then-forced sequence (SIGTERM,
// wait stopTimeout, SIGKILL).
func (a *Adapter) Kill(ctx context.Context, containerID string, sig syscall.Signal) error {
	if err := a.runc.Kill(ctx, containerID, int(sig), nil); err != nil {
		return apierrors.Wrap(apierrors.ErrRuntimeStart, fmt.Sprintf("runc kill %s", containerID), err)
	}
	return nil
}

// Stop sends SIGTERM, waits up to stopTimeout for the container to leave
// the running state, and sends SIGKILL if it hasn't.
func (a *Adapter) Stop(ctx context.Context, containerID string, stopTimeout time.Duration) error {
	if err := a.Kill(ctx, containerID, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		state, _, err := a.State(ctx, containerID)
		if err != nil || state != types.ContainerStateRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return apierrors.Wrap(apierrors.ErrTimeout, "stop container", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
	return a.Kill(ctx, containerID, syscall.SIGKILL)
}

// Delete runs `runc delete`, optionally forcing removal of a still-running
// container.
func (a *Adapter) Delete(ctx context.Context, containerID string, force bool) error {
	if err := a.runc.Delete(ctx, containerID, &runc.DeleteOpts{Force: force}); err != nil {
		return apierrors.Wrap(apierrors.ErrRuntimeDelete, fmt.Sprintf("runc delete %s", containerID), err)
	}
	return nil
}

// Exec runs a one-off process inside a running container via `runc exec`,
// capturing stdout/stderr. A process that runs and exits non-zero is
// reported through ExecResult.ExitCode rather than as an error.
func (a *Adapter) Exec(ctx context.Context, containerID string, req types.ExecRequest) (types.ExecResult, error) {
	var stdout, stderr bytes.Buffer
	proc := specs.Process{
		Args:     req.Command,
		Env:      envSlice(req.Env),
		Terminal: req.TTY,
		Cwd:      "/",
	}

	err := a.runc.Exec(ctx, containerID, proc, &runc.ExecOpts{
		IO: &bufferedIO{stdout: &stdout, stderr: &stderr},
	})
	result := types.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *runc.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.Status
			return result, nil
		}
		return result, apierrors.Wrap(apierrors.ErrRuntimeStart, fmt.Sprintf("runc exec %s", containerID), err)
	}
	return result, nil
}

// bufferedIO implements runc.IO by handing the exec'd process's stdout/
// stderr straight to in-memory buffers instead of connecting pipes, since
// Exec runs synchronously and the buffers are fully written by the time the
// process exits.
type bufferedIO struct {
	stdout, stderr *bytes.Buffer
}

func (b *bufferedIO) Stdin() io.WriteCloser { return nopWriteCloser{io.Discard} }
func (b *bufferedIO) Stdout() io.ReadCloser { return io.NopCloser(b.stdout) }
func (b *bufferedIO) Stderr() io.ReadCloser { return io.NopCloser(b.stderr) }
func (b *bufferedIO) Close() error          { return nil }
func (b *bufferedIO) Set(cmd *exec.Cmd) {
	cmd.Stdout = b.stdout
	cmd.Stderr = b.stderr
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
