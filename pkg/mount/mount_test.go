package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/libra/pkg/types"
)

func TestResolveCreatesDir(t *testing.T) {
	m := New(t.TempDir())
	path, err := m.Resolve("dbdata")
	require.NoError(t, err)
	assert.DirExists(t, path)
}

func TestParseVolumeEntry(t *testing.T) {
	spec, err := parseVolumeEntry("dbdata:/var/lib/data:ro")
	require.NoError(t, err)
	assert.Equal(t, "dbdata", spec.Source)
	assert.Equal(t, "/var/lib/data", spec.Target)
	assert.Equal(t, types.MountReadOnly, spec.Mode)
}

func TestParseVolumeEntryInvalid(t *testing.T) {
	_, err := parseVolumeEntry("not-a-volume")
	assert.Error(t, err)
}

func TestResolveMountsExpandsNamedVolume(t *testing.T) {
	m := New(t.TempDir())
	mounts, err := m.ResolveMounts([]string{"dbdata:/var/lib/data"}, nil)
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "/var/lib/data", mounts[0].Target)
	assert.DirExists(t, mounts[0].Source)
}
