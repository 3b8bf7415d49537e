package container

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/libra/pkg/types"
)

func TestNetnsPathForPid(t *testing.T) {
	assert.Equal(t, "", netnsPathForPid(0))
	assert.Equal(t, "/proc/42/ns/net", netnsPathForPid(42))
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "123", itoa(123))
	assert.Equal(t, "-7", itoa(-7))
}

func TestLockIsPerContainer(t *testing.T) {
	m := New(Config{})
	a := m.lock("c-a")
	b := m.lock("c-b")
	aAgain := m.lock("c-a")
	assert.NotSame(t, a, b)
	assert.Same(t, a, aAgain)
}

func TestPhasesAndListEmpty(t *testing.T) {
	m := New(Config{})
	assert.Empty(t, m.Phases())
	assert.Empty(t, m.List())
}

func TestNetworkModeHostSpecField(t *testing.T) {
	spec := &types.ContainerSpec{Name: "web", NetworkMode: types.NetworkModeHost}
	assert.Equal(t, types.NetworkModeHost, spec.NetworkMode)
}
