package pod

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/libra/pkg/types"
)

func TestCollectPorts(t *testing.T) {
	spec := &types.PodSpec{
		Containers: []types.ContainerSpec{
			{Name: "web", Ports: []types.PortMapping{{ContainerPort: 80, HostPort: 8080}}},
			{Name: "sidecar", Ports: []types.PortMapping{{ContainerPort: 9090}}},
		},
	}
	ports := collectPorts(spec)
	assert.Len(t, ports, 2)
}

func TestPodLockIsPerPod(t *testing.T) {
	m := New(Config{})
	a := m.podLock("pod-a")
	b := m.podLock("pod-b")
	aAgain := m.podLock("pod-a")
	assert.NotSame(t, a, b)
	assert.Same(t, a, aAgain)
}

func TestPhasesEmptyManager(t *testing.T) {
	m := New(Config{})
	assert.Empty(t, m.Phases())
	assert.Empty(t, m.List())
}

// fakeRuntime is an in-memory stand-in for pkg/ociruntime.Adapter that
// tracks call order so lifecycle tests can assert on it directly.
type fakeRuntime struct {
	mu sync.Mutex

	calls []string

	created map[string]bool
	started map[string]bool
	pids    map[string]int
	forced  map[string]types.ContainerState

	failCreate map[string]error
	failStart  map[string]error

	nextPid int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		created:    map[string]bool{},
		started:    map[string]bool{},
		pids:       map[string]int{},
		forced:     map[string]types.ContainerState{},
		failCreate: map[string]error{},
		failStart:  map[string]error{},
		nextPid:    1000,
	}
}

func (f *fakeRuntime) Create(_ context.Context, containerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create:"+containerID)
	if err := f.failCreate[containerID]; err != nil {
		return err
	}
	f.created[containerID] = true
	f.nextPid++
	f.pids[containerID] = f.nextPid
	return nil
}

func (f *fakeRuntime) Start(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start:"+containerID)
	if err := f.failStart[containerID]; err != nil {
		return err
	}
	f.started[containerID] = true
	return nil
}

func (f *fakeRuntime) State(_ context.Context, containerID string) (types.ContainerState, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[containerID] {
		return types.ContainerStateFailed, 0, errors.New("not found")
	}
	if st, ok := f.forced[containerID]; ok {
		return st, f.pids[containerID], nil
	}
	if f.started[containerID] {
		return types.ContainerStateRunning, f.pids[containerID], nil
	}
	return types.ContainerStateCreated, f.pids[containerID], nil
}

func (f *fakeRuntime) Stop(_ context.Context, containerID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop:"+containerID)
	delete(f.started, containerID)
	return nil
}

func (f *fakeRuntime) Delete(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+containerID)
	delete(f.created, containerID)
	delete(f.started, containerID)
	return nil
}

func (f *fakeRuntime) Exec(_ context.Context, containerID string, req types.ExecRequest) (types.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "exec:"+containerID)
	return types.ExecResult{Stdout: "ok"}, nil
}

func (f *fakeRuntime) callIndex(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// fakeBundles is an in-memory stand-in for pkg/bundle.Composer.
type fakeBundles struct {
	mu sync.Mutex

	composed []string
	shared   map[string]int
	removed  []string

	failCompose map[string]error
	failShare   map[string]error
}

func newFakeBundles() *fakeBundles {
	return &fakeBundles{
		shared:      map[string]int{},
		failCompose: map[string]error{},
		failShare:   map[string]error{},
	}
}

func (f *fakeBundles) Compose(containerID, _ string, _ *types.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCompose[containerID]; err != nil {
		return "", err
	}
	f.composed = append(f.composed, containerID)
	return "/bundles/" + containerID, nil
}

func (f *fakeBundles) ShareNamespaces(bundleDir string, pausePid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failShare[bundleDir]; err != nil {
		return err
	}
	f.shared[bundleDir] = pausePid
	return nil
}

func (f *fakeBundles) Remove(containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

// fakeNetwork is an in-memory stand-in for pkg/network.Service.
type fakeNetwork struct {
	mu sync.Mutex

	attachErr error
	attached  []string
	detached  []string
}

func (f *fakeNetwork) Attach(_ context.Context, _, containerID, _ string, _ []types.PortMapping) (*types.IPAMResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attached = append(f.attached, containerID)
	return &types.IPAMResult{IPAddress: "10.0.0.2"}, nil
}

func (f *fakeNetwork) Detach(_ context.Context, _, containerID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, containerID)
	return nil
}

// fakeStore is an in-memory stand-in for pkg/store.Store.
type fakeStore struct {
	mu   sync.Mutex
	pods map[string]types.PodRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{pods: map[string]types.PodRecord{}}
}

func (f *fakeStore) WritePod(podID string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := v.(*types.PodRecord)
	if !ok {
		return nil
	}
	f.pods[podID] = *record
	return nil
}

func (f *fakeStore) ReadPod(podID string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.pods[podID]
	if !ok {
		return errors.New("not found")
	}
	out, ok := v.(*types.PodRecord)
	if !ok {
		return nil
	}
	*out = record
	return nil
}

func (f *fakeStore) RemovePod(podID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pods, podID)
	return nil
}

func (f *fakeStore) ListPods() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pods))
	for id := range f.pods {
		ids = append(ids, id)
	}
	return ids, nil
}

type fixture struct {
	runtime *fakeRuntime
	bundles *fakeBundles
	network *fakeNetwork
	store   *fakeStore
	manager *Manager
}

func newFixture() *fixture {
	fx := &fixture{
		runtime: newFakeRuntime(),
		bundles: newFakeBundles(),
		network: &fakeNetwork{},
		store:   newFakeStore(),
	}
	fx.manager = New(Config{
		Runtime:     fx.runtime,
		Bundles:     fx.bundles,
		Network:     fx.network,
		Store:       fx.store,
		PauseImage:  "/images/pause",
		NetworkName: "libra0",
	})
	return fx
}

func twoContainerSpec(name string) *types.PodSpec {
	return &types.PodSpec{
		Name: name,
		Containers: []types.ContainerSpec{
			{Name: "a", Image: "/images/a"},
			{Name: "b", Image: "/images/b"},
		},
	}
}

func TestCreateAttachesNetworkAndSharesNamespacesBeforeWorkerCreate(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")

	record, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCreated, record.Phase)
	assert.Equal(t, []string{"pod-a", "pod-b"}, record.WorkerIDs)

	// pause created before network attach, network attached before any
	// worker is created.
	assert.Contains(t, fx.network.attached, "pod-pause")
	pauseCreateIdx := fx.runtime.callIndex("create:pod-pause")
	workerACreateIdx := fx.runtime.callIndex("create:pod-a")
	require.NotEqual(t, -1, pauseCreateIdx)
	require.NotEqual(t, -1, workerACreateIdx)
	assert.Less(t, pauseCreateIdx, workerACreateIdx)

	// workers' namespaces were rewritten onto the pause's real pid, not 0.
	pausePid := fx.runtime.pids["pod-pause"]
	assert.Equal(t, pausePid, fx.bundles.shared["/bundles/pod-a"])
	assert.Equal(t, pausePid, fx.bundles.shared["/bundles/pod-b"])
	assert.NotZero(t, pausePid)
}

func TestCreateIdempotentOnDuplicate(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")

	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	_, err = fx.manager.Create(context.Background(), spec, "hash1")
	assert.Error(t, err)
}

func TestCreateNetworkFailureStopsAndDeletesPauseAndCreatesNoWorkers(t *testing.T) {
	fx := newFixture()
	fx.network.attachErr = errors.New("cni add failed")
	spec := twoContainerSpec("pod")

	record, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, record.Phase)
	assert.Empty(t, record.WorkerIDs)

	assert.Contains(t, fx.runtime.calls, "stop:pod-pause")
	assert.Contains(t, fx.runtime.calls, "delete:pod-pause")
	assert.NotContains(t, fx.bundles.composed, "pod-a")
	assert.NotContains(t, fx.bundles.composed, "pod-b")
}

func TestCreateWorkerFailurePreservesPauseAndRollsBackEarlierWorkers(t *testing.T) {
	fx := newFixture()
	fx.runtime.failCreate["pod-b"] = errors.New("runtime create failed")
	spec := twoContainerSpec("pod")

	record, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, record.Phase)
	assert.Empty(t, record.WorkerIDs)

	// worker a was created then rolled back; pause was never stopped/deleted.
	assert.Contains(t, fx.runtime.calls, "delete:pod-a")
	assert.NotContains(t, fx.runtime.calls, "stop:pod-pause")
	assert.NotContains(t, fx.runtime.calls, "delete:pod-pause")
	assert.Contains(t, fx.bundles.removed, "pod-a")
}

func TestStartStartsPauseThenWorkersInOrder(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	record, err := fx.manager.Start(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseRunning, record.Phase)

	pauseIdx := fx.runtime.callIndex("start:pod-pause")
	aIdx := fx.runtime.callIndex("start:pod-a")
	bIdx := fx.runtime.callIndex("start:pod-b")
	require.NotEqual(t, -1, pauseIdx)
	require.NotEqual(t, -1, aIdx)
	require.NotEqual(t, -1, bIdx)
	assert.Less(t, pauseIdx, aIdx)
	assert.Less(t, aIdx, bIdx)
}

func TestStartFailureRollsBackStartedWorkers(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	fx.runtime.failStart["pod-b"] = errors.New("start failed")
	record, err := fx.manager.Start(context.Background(), "pod")
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, record.Phase)
	assert.Contains(t, fx.runtime.calls, "stop:pod-a")
}

func TestDeleteStopsAndDeletesInReverseThenDetachesAndRemovesPause(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)
	_, err = fx.manager.Start(context.Background(), "pod")
	require.NoError(t, err)

	err = fx.manager.Delete(context.Background(), "pod", true)
	require.NoError(t, err)

	bStopIdx := fx.runtime.callIndex("stop:pod-b")
	aStopIdx := fx.runtime.callIndex("stop:pod-a")
	pauseStopIdx := fx.runtime.callIndex("stop:pod-pause")
	require.NotEqual(t, -1, bStopIdx)
	require.NotEqual(t, -1, aStopIdx)
	require.NotEqual(t, -1, pauseStopIdx)
	assert.Less(t, bStopIdx, aStopIdx)
	assert.Less(t, aStopIdx, pauseStopIdx)

	assert.Contains(t, fx.network.detached, "pod-pause")
	assert.Empty(t, fx.manager.List())
}

func TestDeleteIsIdempotent(t *testing.T) {
	fx := newFixture()
	err := fx.manager.Delete(context.Background(), "does-not-exist", false)
	assert.NoError(t, err)
}

func TestExecDelegatesToWorker(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	result, err := fx.manager.Exec(context.Background(), "pod", "a", types.ExecRequest{Command: []string{"true"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)
	assert.Contains(t, fx.runtime.calls, "exec:pod-a")
}

func TestExecUnknownContainer(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	_, err = fx.manager.Exec(context.Background(), "pod", "ghost", types.ExecRequest{Command: []string{"true"}})
	assert.Error(t, err)
}

func TestStateReflectsWorkerExitAsStopping(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)
	_, err = fx.manager.Start(context.Background(), "pod")
	require.NoError(t, err)

	fx.runtime.forced["pod-a"] = types.ContainerStateComplete

	record, err := fx.manager.State(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseStopping, record.Phase)
}

func TestStateReflectsNonZeroExitAsFailed(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)
	_, err = fx.manager.Start(context.Background(), "pod")
	require.NoError(t, err)

	st, ok := fx.manager.getState("pod")
	require.True(t, ok)
	st.record.Containers["pod-a"].ExitCode = 1
	fx.runtime.forced["pod-a"] = types.ContainerStateComplete

	record, err := fx.manager.State(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseFailed, record.Phase)
}

func TestStateReportsDeletedWhenPauseAbsent(t *testing.T) {
	fx := newFixture()
	spec := twoContainerSpec("pod")
	_, err := fx.manager.Create(context.Background(), spec, "hash1")
	require.NoError(t, err)

	delete(fx.runtime.created, "pod-pause")

	record, err := fx.manager.State(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDeleted, record.Phase)
}

func TestDerivePodPhaseTable(t *testing.T) {
	base := func() *types.PodRecord {
		return &types.PodRecord{
			PauseID:   "p-pause",
			WorkerIDs: []string{"p-a"},
			Phase:     types.PhaseCreated,
			Containers: map[string]*types.ContainerRecord{
				"p-pause": {State: types.ContainerStateCreated},
				"p-a":     {State: types.ContainerStateCreated},
			},
		}
	}

	t.Run("created", func(t *testing.T) {
		assert.Equal(t, types.PhaseCreated, derivePodPhase(base(), false))
	})

	t.Run("starting", func(t *testing.T) {
		r := base()
		r.Containers["p-pause"].State = types.ContainerStateRunning
		assert.Equal(t, types.PhaseStarting, derivePodPhase(r, false))
	})

	t.Run("running", func(t *testing.T) {
		r := base()
		r.Containers["p-pause"].State = types.ContainerStateRunning
		r.Containers["p-a"].State = types.ContainerStateRunning
		assert.Equal(t, types.PhaseRunning, derivePodPhase(r, false))
	})

	t.Run("stopping", func(t *testing.T) {
		r := base()
		r.Phase = types.PhaseRunning
		r.Containers["p-pause"].State = types.ContainerStateRunning
		r.Containers["p-a"].State = types.ContainerStateStopped
		assert.Equal(t, types.PhaseStopping, derivePodPhase(r, false))
	})

	t.Run("failed on nonzero exit", func(t *testing.T) {
		r := base()
		r.Phase = types.PhaseRunning
		r.Containers["p-pause"].State = types.ContainerStateRunning
		r.Containers["p-a"].State = types.ContainerStateStopped
		r.Containers["p-a"].ExitCode = 1
		assert.Equal(t, types.PhaseFailed, derivePodPhase(r, false))
	})

	t.Run("deleted when pause absent", func(t *testing.T) {
		assert.Equal(t, types.PhaseDeleted, derivePodPhase(base(), true))
	})
}

func TestRestoreRepopulatesFromStore(t *testing.T) {
	fx := newFixture()
	_ = fx.store.WritePod("pod", &types.PodRecord{PodID: "pod", Phase: types.PhaseRunning})

	err := fx.manager.Restore()
	require.NoError(t, err)
	assert.Contains(t, fx.manager.List(), "pod")
}
