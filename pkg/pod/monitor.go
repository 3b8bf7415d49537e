package pod

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/health"
	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/types"
)

// podExecer adapts Manager.Exec's two-string signature to health.Execer's
// single-target one for a fixed pod.
type podExecer struct {
	mgr   *Manager
	podID string
}

func (p podExecer) Exec(ctx context.Context, containerName string, req types.ExecRequest) (types.ExecResult, error) {
	return p.mgr.Exec(ctx, p.podID, containerName, req)
}

// workerHealth tracks the health.Status for one worker container across
// monitor ticks, keyed by workerID.
type workerHealth struct {
	checker health.Checker
	status  *health.Status
	cfg     health.Config
}

// Monitor runs health checks and restart-policy enforcement for every
// running pod's workers until ctx is canceled. It is meant to run
// alongside the reconciler in daemon mode: a worker that fails its health
// check past its retry threshold is marked Failed so MWR recreates the
// pod on its next tick, and a worker that exits on its own is restarted
// in place when its RestartPolicy condition calls for it.
func (m *Manager) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	checks := make(map[string]*workerHealth)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.monitorTick(ctx, checks)
		}
	}
}

func (m *Manager) monitorTick(ctx context.Context, checks map[string]*workerHealth) {
	m.mu.RLock()
	pods := make(map[string]*podState, len(m.pods))
	for id, st := range m.pods {
		pods[id] = st
	}
	m.mu.RUnlock()

	for podID, st := range pods {
		if st.spec == nil || st.record.Phase != types.PhaseRunning {
			continue
		}
		for i, cs := range st.spec.Containers {
			if i >= len(st.record.WorkerIDs) {
				continue
			}
			workerID := st.record.WorkerIDs[i]
			cr := st.record.Containers[workerID]
			if cr == nil {
				continue
			}

			if cs.HealthCheck != nil {
				m.runHealthCheck(ctx, podID, workerID, cs, cr, checks)
			}
			if cr.State != types.ContainerStateRunning && cs.RestartPolicy != nil {
				m.maybeRestart(ctx, podID, workerID, cs, cr)
			}
		}
	}
}

func (m *Manager) runHealthCheck(ctx context.Context, podID, workerID string, cs types.ContainerSpec, cr *types.ContainerRecord, checks map[string]*workerHealth) {
	wh, ok := checks[workerID]
	if !ok {
		cfg := health.Config{
			Interval: cs.HealthCheck.Interval,
			Timeout:  cs.HealthCheck.Timeout,
			Retries:  cs.HealthCheck.Retries,
		}
		if cfg.Retries <= 0 {
			cfg.Retries = 3
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10 * time.Second
		}
		wh = &workerHealth{checker: buildChecker(m, podID, workerID, cs.HealthCheck), status: health.NewStatus(), cfg: cfg}
		checks[workerID] = wh
	}
	if wh.checker == nil || wh.status.InStartPeriod(wh.cfg) {
		return
	}

	result := wh.checker.Check(ctx)
	wasHealthy := wh.status.Healthy
	wh.status.Update(result, wh.cfg)

	if wasHealthy && !wh.status.Healthy {
		m.publish(events.EventHealthCheckFailed, podID, workerID+": "+result.Message)
		st, ok := m.getState(podID)
		if ok {
			st.record.Phase = types.PhaseFailed
			st.record.LastError = result.Message
			if err := m.cfg.Store.WritePod(podID, st.record); err != nil {
				m.log.Warn().Err(err).Str("pod_id", podID).Msg("failed to persist failed pod record")
			}
		}
	}
}

func buildChecker(m *Manager, podID, workerID string, hc *types.HealthCheck) health.Checker {
	switch hc.Type {
	case types.HealthCheckHTTP:
		return health.NewHTTPChecker(hc.Endpoint).WithTimeout(hc.Timeout)
	case types.HealthCheckTCP:
		return health.NewTCPChecker(hc.Endpoint).WithTimeout(hc.Timeout)
	case types.HealthCheckExec:
		return health.NewExecChecker(podExecer{mgr: m, podID: podID}, strings.TrimPrefix(workerID, podID+"-"), hc.Command)
	default:
		return nil
	}
}

func (m *Manager) maybeRestart(ctx context.Context, podID, workerID string, cs types.ContainerSpec, cr *types.ContainerRecord) {
	policy := cs.RestartPolicy
	if policy.Condition == types.RestartNever {
		return
	}
	if cr.State == types.ContainerStateComplete && policy.Condition == types.RestartOnFailure {
		return
	}
	if policy.MaxAttempts > 0 && cr.RestartCount >= policy.MaxAttempts {
		return
	}
	if policy.Delay > 0 {
		time.Sleep(policy.Delay)
	}

	if err := m.cfg.Runtime.Start(ctx, workerID); err != nil {
		m.log.Warn().Err(err).Str("container_id", workerID).Msg("in-place restart failed")
		return
	}
	cr.State = types.ContainerStateRunning
	cr.StartedAt = timeNow()
	cr.RestartCount++
	metrics.ContainersRestartedTotal.WithLabelValues(string(policy.Condition)).Inc()
	m.publish(events.EventContainerStarted, podID, workerID)
}
