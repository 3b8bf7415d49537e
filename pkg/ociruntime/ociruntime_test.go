package ociruntime

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/libra/pkg/types"
)

func TestTranslateStatus(t *testing.T) {
	assert.Equal(t, types.ContainerStateCreated, translateStatus("created"))
	assert.Equal(t, types.ContainerStateRunning, translateStatus("running"))
	assert.Equal(t, types.ContainerStateStopped, translateStatus("stopped"))
	assert.Equal(t, types.ContainerStateFailed, translateStatus("unknown"))
}

func TestEnvSlice(t *testing.T) {
	out := envSlice(map[string]string{"A": "1", "B": "2"})
	sort.Strings(out)
	assert.Equal(t, []string{"A=1", "B=2"}, out)
}

func TestNew(t *testing.T) {
	a := New("/run/libra/runc")
	assert.NotNil(t, a)
}
