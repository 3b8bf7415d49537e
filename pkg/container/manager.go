// Package container implements CTM, the standalone single-container state
// machine: create/start/state/delete/exec/list, the same contract as PTM
// minus namespace sharing. A container either gets its own bridge-attached
// netns (default) or joins the host's netns directly when
// ContainerSpec.NetworkMode == "host".
package container

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/bundle"
	"github.com/cuemby/libra/pkg/cgroup"
	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/network"
	"github.com/cuemby/libra/pkg/ociruntime"
	"github.com/cuemby/libra/pkg/store"
	"github.com/cuemby/libra/pkg/types"
)

const defaultStopTimeout = 10 * time.Second
const hostNetnsPath = "/proc/1/ns/net"

// Config wires CTM's collaborators.
type Config struct {
	Runtime     *ociruntime.Adapter
	Bundles     *bundle.Composer
	Network     *network.Service
	Store       *store.Store
	Events      *events.Broker
	NetworkName string
}

// Manager is CTM.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu         sync.RWMutex
	containers map[string]*containerState
	locks      sync.Map
}

type containerState struct {
	spec   *types.ContainerSpec
	record *types.ContainerRuntimeRecord
}

// New returns a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		log:        log.WithComponent("container"),
		containers: make(map[string]*containerState),
	}
}

func (m *Manager) lock(name string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Create composes the bundle and runc-creates the container without
// starting it.
func (m *Manager) Create(ctx context.Context, spec *types.ContainerSpec, specHash string) (*types.ContainerRuntimeRecord, error) {
	lock := m.lock(spec.Name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	_, exists := m.containers[spec.Name]
	m.mu.RUnlock()
	if exists {
		return nil, apierrors.AlreadyExists("container", spec.Name)
	}

	record := &types.ContainerRuntimeRecord{
		Name:      spec.Name,
		Phase:     types.PhaseCreating,
		SpecHash:  specHash,
		CreatedAt: timeNow(),
	}

	bundleDir, err := m.cfg.Bundles.Compose(spec.Name, spec.Image, spec)
	if err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	if err := m.cfg.Runtime.Create(ctx, spec.Name, bundleDir); err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}

	record.Phase = types.PhaseCreated
	record.Record = &types.ContainerRecord{
		Name:        spec.Name,
		ContainerID: spec.Name,
		BundlePath:  bundleDir,
		State:       types.ContainerStateCreated,
	}

	m.mu.Lock()
	m.containers[spec.Name] = &containerState{spec: spec, record: record}
	m.mu.Unlock()

	if err := m.cfg.Store.WriteContainer(spec.Name, record); err != nil {
		m.log.Warn().Err(err).Str("container_id", spec.Name).Msg("failed to persist container record")
	}
	m.publish(events.EventContainerCreated, spec.Name)
	return record, nil
}

// Start starts the container, applies cgroup limits, and attaches its
// network (bridge mode) or leaves it on the host netns (host mode).
func (m *Manager) Start(ctx context.Context, name string) (*types.ContainerRuntimeRecord, error) {
	lock := m.lock(name)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStartDuration)

	st, ok := m.getState(name)
	if !ok {
		return nil, apierrors.NotFound("container", name)
	}
	record := st.record

	if err := m.cfg.Runtime.Start(ctx, name); err != nil {
		record.Phase = types.PhaseFailed
		record.LastError = err.Error()
		return record, err
	}
	record.Record.State = types.ContainerStateRunning
	record.Record.StartedAt = timeNow()

	_, pid, err := m.cfg.Runtime.State(ctx, name)
	if err == nil && st.spec.Resources != nil && st.spec.Resources.Limits != nil {
		cgTimer := metrics.NewTimer()
		if cg, cgErr := cgroup.Create(name, st.spec.Resources.Limits); cgErr == nil {
			_ = cg.AddProcess(pid)
		}
		cgTimer.ObserveDuration(metrics.CgroupApplyDuration)
	}

	if st.spec.NetworkMode == types.NetworkModeHost {
		record.NetnsPath = hostNetnsPath
	} else {
		netTimer := metrics.NewTimer()
		network := m.cfg.NetworkName
		ipam, err := m.cfg.Network.Attach(ctx, network, name, netnsPathForPid(pid), st.spec.Ports)
		netTimer.ObserveDuration(metrics.NetworkAttachDuration)
		if err != nil {
			metrics.NetworkAttachFailuresTotal.Inc()
			record.Phase = types.PhaseFailed
			record.LastError = err.Error()
			return record, err
		}
		record.NetnsPath = netnsPathForPid(pid)
		record.IPAddress = ipam.IPAddress
	}

	record.Phase = types.PhaseRunning
	if err := m.cfg.Store.WriteContainer(name, record); err != nil {
		m.log.Warn().Err(err).Str("container_id", name).Msg("failed to persist container record")
	}
	m.publish(events.EventContainerStarted, name)
	return record, nil
}

// State refreshes and returns the container's runtime record.
func (m *Manager) State(ctx context.Context, name string) (*types.ContainerRuntimeRecord, error) {
	st, ok := m.getState(name)
	if !ok {
		return nil, apierrors.NotFound("container", name)
	}
	state, pid, err := m.cfg.Runtime.State(ctx, name)
	if err == nil {
		st.record.Record.State = state
		st.record.Record.Pid = pid
	}
	return st.record, nil
}

// List returns every known container name.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.containers))
	for n := range m.containers {
		names = append(names, n)
	}
	return names
}

// Phases returns a snapshot of every container's current phase.
func (m *Manager) Phases() map[string]types.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Phase, len(m.containers))
	for n, st := range m.containers {
		out[n] = st.record.Phase
	}
	return out
}

// Exec runs a command inside the running container.
func (m *Manager) Exec(ctx context.Context, name string, req types.ExecRequest) (types.ExecResult, error) {
	if _, ok := m.getState(name); !ok {
		return types.ExecResult{}, apierrors.NotFound("container", name)
	}
	return m.cfg.Runtime.Exec(ctx, name, req)
}

// Delete stops, detaches networking, and removes the container. Missing
// containers are idempotent success. force also removes the bundle
// directory and cgroup.
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	lock := m.lock(name)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStopDuration)

	st, ok := m.getState(name)
	if !ok {
		return nil
	}
	record := st.record
	record.Phase = types.PhaseStopping

	_ = m.cfg.Runtime.Stop(ctx, name, defaultStopTimeout)

	if st.spec.NetworkMode != types.NetworkModeHost && record.NetnsPath != "" {
		_ = m.cfg.Network.Detach(ctx, m.cfg.NetworkName, name, record.NetnsPath, record.IPAddress)
	}

	_ = m.cfg.Runtime.Delete(ctx, name, force)
	if force {
		_ = m.cfg.Bundles.Remove(name)
		if cg, err := cgroup.Load(name); err == nil {
			_ = cg.Delete()
		}
	}

	record.Phase = types.PhaseDeleted
	m.mu.Lock()
	delete(m.containers, name)
	m.mu.Unlock()

	if force {
		_ = m.cfg.Store.RemoveContainer(name)
	} else if err := m.cfg.Store.WriteContainer(name, record); err != nil {
		m.log.Warn().Err(err).Str("container_id", name).Msg("failed to persist deleted container record")
	}
	m.publish(events.EventContainerDeleted, name)
	return nil
}

func (m *Manager) getState(name string) (*containerState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.containers[name]
	return st, ok
}

func (m *Manager) publish(t events.EventType, name string) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     t,
		Metadata: map[string]string{"container_id": name},
	})
}

func netnsPathForPid(pid int) string {
	if pid == 0 {
		return ""
	}
	return "/proc/" + itoa(pid) + "/ns/net"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

var timeNow = func() time.Time { return time.Now() }
