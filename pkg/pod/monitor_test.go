package pod

import (
	"context"
	"testing"

	"github.com/cuemby/libra/pkg/types"
)

func TestMaybeRestartSkipsOnRestartNever(t *testing.T) {
	m := &Manager{}
	cr := &types.ContainerRecord{State: types.ContainerStateComplete}
	m.maybeRestart(context.Background(), "pod-a", "pod-a-web", types.ContainerSpec{
		RestartPolicy: &types.RestartPolicy{Condition: types.RestartNever},
	}, cr)
	if cr.State != types.ContainerStateComplete {
		t.Error("expected no restart attempt for RestartNever")
	}
}

func TestMaybeRestartSkipsOnFailureConditionWhenComplete(t *testing.T) {
	m := &Manager{}
	cr := &types.ContainerRecord{State: types.ContainerStateComplete}
	m.maybeRestart(context.Background(), "pod-a", "pod-a-web", types.ContainerSpec{
		RestartPolicy: &types.RestartPolicy{Condition: types.RestartOnFailure},
	}, cr)
	if cr.State != types.ContainerStateComplete {
		t.Error("on-failure policy must not restart a cleanly completed container")
	}
}

func TestMaybeRestartRespectsMaxAttempts(t *testing.T) {
	m := &Manager{}
	cr := &types.ContainerRecord{State: types.ContainerStateFailed, RestartCount: 3}
	m.maybeRestart(context.Background(), "pod-a", "pod-a-web", types.ContainerSpec{
		RestartPolicy: &types.RestartPolicy{Condition: types.RestartAlways, MaxAttempts: 3},
	}, cr)
	if cr.RestartCount != 3 {
		t.Error("expected no restart once MaxAttempts is reached")
	}
}

func TestBuildCheckerUnknownTypeReturnsNil(t *testing.T) {
	m := &Manager{}
	checker := buildChecker(m, "pod-a", "pod-a-web", &types.HealthCheck{Type: "bogus"})
	if checker != nil {
		t.Error("expected nil checker for unknown health check type")
	}
}
