package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/libra/pkg/types"
)

func TestWriteReadPodRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	rec := &types.PodRecord{PodID: "pod-1", Phase: types.PhaseRunning}
	require.NoError(t, s.WritePod("pod-1", rec))

	var got types.PodRecord
	require.NoError(t, s.ReadPod("pod-1", &got))
	assert.Equal(t, rec.PodID, got.PodID)
	assert.Equal(t, rec.Phase, got.Phase)
}

func TestReadPodNotFound(t *testing.T) {
	s := New(t.TempDir())
	var got types.PodRecord
	err := s.ReadPod("missing", &got)
	assert.Error(t, err)
}

func TestListPods(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WritePod("pod-a", &types.PodRecord{PodID: "pod-a"}))
	require.NoError(t, s.WritePod("pod-b", &types.PodRecord{PodID: "pod-b"}))

	ids, err := s.ListPods()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pod-a", "pod-b"}, ids)
}

func TestRemovePod(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WritePod("pod-1", &types.PodRecord{PodID: "pod-1"}))
	require.NoError(t, s.RemovePod("pod-1"))

	var got types.PodRecord
	assert.Error(t, s.ReadPod("pod-1", &got))
}
