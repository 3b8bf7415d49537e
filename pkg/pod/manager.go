// Package pod implements PTM, the pause+workers pod state machine: create,
// start, state, delete, exec and list over a pod's pause container and its
// ordered worker containers, sharing the pause's network/pid/ipc/uts
// namespaces with every worker.
//
// Grounded on the teacher's worker.Worker execute/stop state-transition
// shape, generalized from "poll for an assignment" to "directly driven by
// Manager.Create/Start/Delete calls".
package pod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/cgroup"
	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/types"
)

const defaultStopTimeout = 10 * time.Second

// Config wires PTM's collaborators. Runtime/Bundles/Network/Store are
// narrow interfaces (see interfaces.go) satisfied by *ociruntime.Adapter,
// *bundle.Composer, *network.Service and *store.Store respectively, so
// tests can drive the state machine against fakes.
type Config struct {
	Runtime     Runtime
	Bundles     Bundles
	Network     Network
	Store       Store
	Events      *events.Broker
	PauseImage  string // rootfs path for the pause container image
	NetworkName string // default network for pods that don't request one
}

// Manager is PTM.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu   sync.RWMutex
	pods map[string]*podState

	locks sync.Map // pod_id -> *sync.Mutex, per-pod exclusive lock
}

type podState struct {
	spec   *types.PodSpec
	record *types.PodRecord
}

// New returns a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:  cfg,
		log:  log.WithComponent("pod"),
		pods: make(map[string]*podState),
	}
}

func (m *Manager) podLock(podID string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(podID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Create composes and runc-creates the pause container, reads its PID
// (assigned as soon as the init process exists, before start), attaches NS
// to the pause's netns, then composes and runc-creates each worker in
// declaration order with its namespaces already rewritten onto the pause's.
// A CNI attach failure stops and deletes the pause and creates no workers;
// a worker creation failure deletes the workers created so far, in reverse
// order, and preserves the pause and its netns for diagnosis.
func (m *Manager) Create(ctx context.Context, spec *types.PodSpec, specHash string) (*types.PodRecord, error) {
	podID := spec.Name
	lock := m.podLock(podID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	_, exists := m.pods[podID]
	m.mu.RUnlock()
	if exists {
		return nil, apierrors.AlreadyExists("pod", podID)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PodCreateDuration)

	record := &types.PodRecord{
		PodID:      podID,
		Phase:      types.PhaseCreating,
		Containers: make(map[string]*types.ContainerRecord),
		SpecHash:   specHash,
		CreatedAt:  timeNow(),
	}

	pauseID := podID + "-pause"
	pauseBundle, err := m.cfg.Bundles.Compose(pauseID, m.cfg.PauseImage, &types.ContainerSpec{Name: pauseID})
	if err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	record.PauseID = pauseID

	if err := m.cfg.Runtime.Create(ctx, pauseID, pauseBundle); err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	record.Containers[pauseID] = &types.ContainerRecord{
		Name:        pauseID,
		ContainerID: pauseID,
		BundlePath:  pauseBundle,
		State:       types.ContainerStateCreated,
	}

	_, pausePid, err := m.cfg.Runtime.State(ctx, pauseID)
	if err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}

	network := spec.Network
	if network == "" {
		network = m.cfg.NetworkName
	}
	netnsPath := fmt.Sprintf("/proc/%d/ns/net", pausePid)
	netTimer := metrics.NewTimer()
	ipam, err := m.cfg.Network.Attach(ctx, network, pauseID, netnsPath, collectPorts(spec))
	netTimer.ObserveDuration(metrics.NetworkAttachDuration)
	if err != nil {
		metrics.NetworkAttachFailuresTotal.Inc()
		_ = m.cfg.Runtime.Stop(ctx, pauseID, defaultStopTimeout)
		_ = m.cfg.Runtime.Delete(ctx, pauseID, true)
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	record.NetnsPath = netnsPath
	record.IPAddress = ipam.IPAddress

	for _, cs := range spec.Containers {
		workerID := podID + "-" + cs.Name
		workerBundle, err := m.cfg.Bundles.Compose(workerID, cs.Image, &cs)
		if err != nil {
			m.rollbackWorkers(ctx, record)
			record.Phase = types.PhaseFailed
			record.LastError = err.Error()
			return record, err
		}
		if err := m.cfg.Bundles.ShareNamespaces(workerBundle, pausePid); err != nil {
			m.rollbackWorkers(ctx, record)
			record.Phase = types.PhaseFailed
			record.LastError = err.Error()
			return record, apierrors.Wrap(apierrors.ErrNamespaceShareFailed, workerID, err)
		}
		if err := m.cfg.Runtime.Create(ctx, workerID, workerBundle); err != nil {
			m.rollbackWorkers(ctx, record)
			record.Phase = types.PhaseFailed
			record.LastError = err.Error()
			return record, err
		}
		record.WorkerIDs = append(record.WorkerIDs, workerID)
		record.Containers[workerID] = &types.ContainerRecord{
			Name:        cs.Name,
			ContainerID: workerID,
			BundlePath:  workerBundle,
			State:       types.ContainerStateCreated,
		}
	}

	record.Phase = types.PhaseCreated
	m.mu.Lock()
	m.pods[podID] = &podState{spec: spec, record: record}
	m.mu.Unlock()

	if err := m.cfg.Store.WritePod(podID, record); err != nil {
		m.log.Warn().Err(err).Str("pod_id", podID).Msg("failed to persist pod record")
	}
	m.publish(events.EventPodCreated, podID, "")
	return record, nil
}

// rollbackWorkers deletes every worker created so far, in reverse order,
// leaving the pause and its netns in place per the worker-creation-failure
// policy.
func (m *Manager) rollbackWorkers(ctx context.Context, record *types.PodRecord) {
	for i := len(record.WorkerIDs) - 1; i >= 0; i-- {
		workerID := record.WorkerIDs[i]
		_ = m.cfg.Runtime.Delete(ctx, workerID, true)
		_ = m.cfg.Bundles.Remove(workerID)
		delete(record.Containers, workerID)
	}
	record.WorkerIDs = nil
}

// Start starts the pause container, already namespace-attached and netns-
// joined by Create, then starts each worker in strict declaration order,
// placing it in its own cgroup when its spec sets resource limits. If any
// worker fails to start, the workers already started are stopped and the
// pause is left running.
func (m *Manager) Start(ctx context.Context, podID string) (*types.PodRecord, error) {
	lock := m.podLock(podID)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PodStartDuration)

	st, ok := m.getState(podID)
	if !ok {
		return nil, apierrors.NotFound("pod", podID)
	}
	record := st.record
	record.Phase = types.PhaseStarting

	if err := m.cfg.Runtime.Start(ctx, record.PauseID); err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	record.Containers[record.PauseID].State = types.ContainerStateRunning
	record.Containers[record.PauseID].StartedAt = timeNow()

	var started []string
	for i, workerID := range record.WorkerIDs {
		if err := m.cfg.Runtime.Start(ctx, workerID); err != nil {
			m.rollbackStart(ctx, record, started)
			record.Phase = types.PhaseFailed
			record.LastError = err.Error()
			return record, err
		}
		record.Containers[workerID].State = types.ContainerStateRunning
		record.Containers[workerID].StartedAt = timeNow()
		started = append(started, workerID)

		if st.spec != nil && i < len(st.spec.Containers) {
			if res := st.spec.Containers[i].Resources; res != nil && res.Limits != nil {
				if _, pid, err := m.cfg.Runtime.State(ctx, workerID); err == nil {
					cgTimer := metrics.NewTimer()
					if cg, cgErr := cgroup.Create(workerID, res.Limits); cgErr == nil {
						_ = cg.AddProcess(pid)
					}
					cgTimer.ObserveDuration(metrics.CgroupApplyDuration)
				}
			}
		}
	}

	record.Phase = types.PhaseRunning
	if err := m.cfg.Store.WritePod(podID, record); err != nil {
		m.log.Warn().Err(err).Str("pod_id", podID).Msg("failed to persist pod record")
	}
	m.publish(events.EventPodStarted, podID, "")
	return record, nil
}

// rollbackStart stops already-started workers in reverse order when a later
// worker fails to start.
func (m *Manager) rollbackStart(ctx context.Context, record *types.PodRecord, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		workerID := started[i]
		_ = m.cfg.Runtime.Stop(ctx, workerID, defaultStopTimeout)
	}
}

// State returns the current pod record, refreshing each container's
// runtime state from ORA and reconstructing the pod phase from the
// pause/worker state table.
func (m *Manager) State(ctx context.Context, podID string) (*types.PodRecord, error) {
	lock := m.podLock(podID)
	lock.Lock()
	defer lock.Unlock()

	st, ok := m.getState(podID)
	if !ok {
		return nil, apierrors.NotFound("pod", podID)
	}
	record := st.record

	pauseAbsent := false
	for id, cr := range record.Containers {
		state, pid, err := m.cfg.Runtime.State(ctx, id)
		if err != nil {
			if id == record.PauseID {
				pauseAbsent = true
			}
			continue
		}
		cr.State = state
		cr.Pid = pid
	}

	record.Phase = derivePodPhase(record, pauseAbsent)
	return record, nil
}

// derivePodPhase reconstructs a pod's phase from its pause and worker
// container states, per PTM's phase-derivation table.
func derivePodPhase(record *types.PodRecord, pauseAbsent bool) types.Phase {
	if pauseAbsent {
		return types.PhaseDeleted
	}
	pause, ok := record.Containers[record.PauseID]
	if !ok {
		return types.PhaseDeleted
	}

	allWorkersAtMostCreated := true
	allWorkersRunning := true
	anyWorkerCreated := false
	anyHalted := false
	anyFailedExit := false

	all := make([]*types.ContainerRecord, 0, len(record.WorkerIDs)+1)
	all = append(all, pause)
	for _, id := range record.WorkerIDs {
		if cr, ok := record.Containers[id]; ok {
			all = append(all, cr)
		}
	}
	for _, cr := range all {
		if cr.State == types.ContainerStateStopped || cr.State == types.ContainerStateComplete || cr.State == types.ContainerStateFailed {
			anyHalted = true
			if cr.ExitCode != 0 {
				anyFailedExit = true
			}
		}
	}
	for _, id := range record.WorkerIDs {
		cr, ok := record.Containers[id]
		if !ok {
			continue
		}
		switch cr.State {
		case types.ContainerStateRunning:
			allWorkersAtMostCreated = false
		case types.ContainerStateCreated:
			anyWorkerCreated = true
			allWorkersRunning = false
		default:
			allWorkersAtMostCreated = false
			allWorkersRunning = false
		}
	}

	switch pause.State {
	case types.ContainerStateCreated:
		if allWorkersAtMostCreated {
			return types.PhaseCreated
		}
	case types.ContainerStateRunning:
		if anyWorkerCreated {
			return types.PhaseStarting
		}
		if allWorkersRunning {
			return types.PhaseRunning
		}
	}

	if anyHalted {
		if record.Phase == types.PhaseRunning && !anyFailedExit {
			return types.PhaseStopping
		}
		return types.PhaseFailed
	}

	return record.Phase
}

// List returns every known pod ID.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pods))
	for id := range m.pods {
		ids = append(ids, id)
	}
	return ids
}

// Phases returns a snapshot of every pod's current phase, for metrics
// sampling (pkg/metrics.Collector).
func (m *Manager) Phases() map[string]types.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Phase, len(m.pods))
	for id, st := range m.pods {
		out[id] = st.record.Phase
	}
	return out
}

// Exec runs a command inside the named worker container.
func (m *Manager) Exec(ctx context.Context, podID, containerName string, req types.ExecRequest) (types.ExecResult, error) {
	st, ok := m.getState(podID)
	if !ok {
		return types.ExecResult{}, apierrors.NotFound("pod", podID)
	}
	workerID := podID + "-" + containerName
	if _, ok := st.record.Containers[workerID]; !ok {
		return types.ExecResult{}, apierrors.NotFound("container", containerName)
	}
	return m.cfg.Runtime.Exec(ctx, workerID, req)
}

// Delete stops and removes every worker, then the pause, then the pod's
// registry entry. Missing pods are idempotent success. force also removes
// bundle directories and cgroups for pods left in Failed.
func (m *Manager) Delete(ctx context.Context, podID string, force bool) error {
	lock := m.podLock(podID)
	lock.Lock()
	defer lock.Unlock()

	st, ok := m.getState(podID)
	if !ok {
		return nil // idempotent success
	}
	record := st.record
	record.Phase = types.PhaseStopping

	for i := len(record.WorkerIDs) - 1; i >= 0; i-- {
		workerID := record.WorkerIDs[i]
		_ = m.cfg.Runtime.Stop(ctx, workerID, defaultStopTimeout)
		_ = m.cfg.Runtime.Delete(ctx, workerID, force)
		if force {
			_ = m.cfg.Bundles.Remove(workerID)
			if cg, err := cgroup.Load(workerID); err == nil {
				_ = cg.Delete()
			}
		}
	}

	if record.PauseID != "" {
		if record.NetnsPath != "" {
			network := st.spec.Network
			if network == "" {
				network = m.cfg.NetworkName
			}
			_ = m.cfg.Network.Detach(ctx, network, record.PauseID, record.NetnsPath, record.IPAddress)
		}
		_ = m.cfg.Runtime.Stop(ctx, record.PauseID, defaultStopTimeout)
		_ = m.cfg.Runtime.Delete(ctx, record.PauseID, force)
		if force {
			_ = m.cfg.Bundles.Remove(record.PauseID)
		}
	}

	record.Phase = types.PhaseDeleted
	m.mu.Lock()
	delete(m.pods, podID)
	m.mu.Unlock()

	if force {
		_ = m.cfg.Store.RemovePod(podID)
	} else if err := m.cfg.Store.WritePod(podID, record); err != nil {
		m.log.Warn().Err(err).Str("pod_id", podID).Msg("failed to persist deleted pod record")
	}
	m.publish(events.EventPodDeleted, podID, "")
	return nil
}

// Restore repopulates the in-memory registry from persisted pod records,
// so a restarted daemon's reconciler sees already-running pods as observed
// instead of orphaning them on its first tick. Restored entries carry no
// spec, only the last known record; a hash-changed or Failed pod is
// recreated through the normal Create path, which supplies a fresh spec.
func (m *Manager) Restore() error {
	ids, err := m.cfg.Store.ListPods()
	if err != nil {
		return err
	}
	for _, id := range ids {
		var record types.PodRecord
		if err := m.cfg.Store.ReadPod(id, &record); err != nil {
			m.log.Warn().Err(err).Str("pod_id", id).Msg("failed to restore pod record")
			continue
		}
		m.mu.Lock()
		m.pods[id] = &podState{record: &record}
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) getState(podID string) (*podState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.pods[podID]
	return st, ok
}

func (m *Manager) publish(t events.EventType, podID, msg string) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     t,
		Message:  msg,
		Metadata: map[string]string{"pod_id": podID},
	})
}

func collectPorts(spec *types.PodSpec) []types.PortMapping {
	var ports []types.PortMapping
	for _, c := range spec.Containers {
		ports = append(ports, c.Ports...)
	}
	return ports
}

// timeNow is a seam so tests don't depend on wall-clock time ordering.
var timeNow = func() time.Time { return time.Now() }
