package nodeagent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/libra/pkg/types"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := New(Config{CacheDBPath: filepath.Join(t.TempDir(), "assignments.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestLoadEmptyBeforeAnyAssignment(t *testing.T) {
	a := newTestAgent(t)
	desired, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, desired)
}

func TestApplyUpdatesDesiredAndPersists(t *testing.T) {
	a := newTestAgent(t)

	assignment := types.Assignment{
		Kind:     types.KindPod,
		Pod:      &types.PodSpec{Name: "web-1"},
		Revision: 1,
	}
	a.apply(assignment)

	desired, err := a.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, desired, "web-1")
	assert.Equal(t, "web-1", desired["web-1"].Spec.Name)
	assert.NotEmpty(t, desired["web-1"].Hash)
}

func TestApplyIgnoresAssignmentWithoutPod(t *testing.T) {
	a := newTestAgent(t)
	a.apply(types.Assignment{Kind: types.KindPod, Pod: nil})

	desired, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, desired)
}

func TestRestoreCacheRepopulatesDesired(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assignments.db")

	a, err := New(Config{CacheDBPath: dbPath})
	require.NoError(t, err)
	a.apply(types.Assignment{Kind: types.KindPod, Pod: &types.PodSpec{Name: "web-1"}, Revision: 1})
	require.NoError(t, a.Close())

	restarted, err := New(Config{CacheDBPath: dbPath})
	require.NoError(t, err)
	defer restarted.Close()

	desired, err := restarted.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, desired, "web-1")
}

func TestEventsFiresOnApply(t *testing.T) {
	a := newTestAgent(t)
	a.apply(types.Assignment{Kind: types.KindPod, Pod: &types.PodSpec{Name: "web-1"}})

	select {
	case <-a.Events():
	default:
		t.Fatal("expected an event after apply")
	}
}

func TestStreamOnceFailsWithoutConnect(t *testing.T) {
	a := newTestAgent(t)
	err := a.streamOnce(context.Background())
	assert.Error(t, err)
}
