package bundle

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/libra/pkg/types"
)

func TestBaseSpecMounts(t *testing.T) {
	cs := &types.ContainerSpec{
		Name: "web",
		Args: []string{"/bin/sh", "-c", "serve"},
		Env:  map[string]string{"PORT": "8080"},
		Mounts: []types.MountSpec{
			{Source: "/data", Target: "/var/data", Mode: types.MountReadOnly},
		},
	}

	spec := baseSpec(cs)
	assert.Equal(t, "web", spec.Hostname)
	assert.Contains(t, spec.Process.Env, "PORT=8080")

	var found bool
	for _, m := range spec.Mounts {
		if m.Destination == "/var/data" {
			found = true
			assert.Contains(t, m.Options, "ro")
		}
	}
	assert.True(t, found, "expected bind mount for /var/data")
}

func TestNsFile(t *testing.T) {
	assert.Equal(t, "net", nsFile(specs.NetworkNamespace))
	assert.Equal(t, "pid", nsFile(specs.PIDNamespace))
}

func TestBundlePath(t *testing.T) {
	c := New("/var/lib/libra/bundles")
	assert.Equal(t, "/var/lib/libra/bundles/abc", c.BundlePath("abc"))
}
