package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/libra/pkg/types"
)

// Execer runs a command inside a running container and reports its exit
// code and output. pkg/container.Manager satisfies it through its Exec
// method; pkg/pod wraps pod.Manager.Exec in an adapter bound to one pod.
type Execer interface {
	Exec(ctx context.Context, target string, req types.ExecRequest) (types.ExecResult, error)
}

// ExecChecker runs a healthcheck command inside a container via the
// runtime's exec path, the same one CLI `exec` uses, rather than shelling
// out on the host.
type ExecChecker struct {
	Execer Execer

	// Target identifies the container to exec into: a container name for
	// pkg/container.Manager, or the worker's container name within the
	// pod for pkg/pod's adapter.
	Target string

	Command []string

	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker.
func NewExecChecker(execer Execer, target string, command []string) *ExecChecker {
	return &ExecChecker{
		Execer:  execer,
		Target:  target,
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{Healthy: false, Message: "no command specified", CheckedAt: start, Duration: time.Since(start)}
	}
	if e.Execer == nil {
		return Result{Healthy: false, Message: "no execer configured", CheckedAt: start, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	result, err := e.Execer.Exec(execCtx, e.Target, types.ExecRequest{Command: e.Command})
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("exec failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	message := fmt.Sprintf("command: %v, exit code: %d", e.Command, result.ExitCode)
	if result.Stderr != "" {
		message = fmt.Sprintf("%s, stderr: %s", message, truncate(result.Stderr, 200))
	}

	return Result{
		Healthy:   result.ExitCode == 0,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
