// Package cgroup programs cgroup v2 resource limits for a running
// container, wrapping github.com/containerd/cgroups/v3/cgroup2.
package cgroup

import (
	"fmt"

	"github.com/containerd/cgroups/v3/cgroup2"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/types"
)

const periodMicros = uint64(100000)

// Manager programs and tears down one container's cgroup.
type Manager struct {
	cg *cgroup2.Manager
}

// Path returns the cgroup v2 path libra uses for a given container, nested
// under a single libra.slice so external tooling can find every managed
// container in one place.
func Path(containerID string) string {
	return "/libra.slice/" + containerID + ".scope"
}

// Create creates the cgroup (without attaching a process yet) and applies
// resource limits translated from limits.
func Create(containerID string, limits *types.ResourceLimits) (*Manager, error) {
	res := toResources(limits)
	cg, err := cgroup2.NewManager("/sys/fs/cgroup", Path(containerID), res)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCgroupProgram, fmt.Sprintf("create cgroup for %s", containerID), err)
	}
	return &Manager{cg: cg}, nil
}

// Load attaches to an existing cgroup, e.g. after a daemon restart.
func Load(containerID string) (*Manager, error) {
	cg, err := cgroup2.Load(Path(containerID))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCgroupProgram, fmt.Sprintf("load cgroup for %s", containerID), err)
	}
	return &Manager{cg: cg}, nil
}

// AddProcess puts pid under the cgroup's control.
func (m *Manager) AddProcess(pid int) error {
	if err := m.cg.AddProc(uint64(pid)); err != nil {
		return apierrors.Wrap(apierrors.ErrCgroupProgram, "attach process to cgroup", err)
	}
	return nil
}

// Update reprograms resource limits on an already-created cgroup.
func (m *Manager) Update(limits *types.ResourceLimits) error {
	if err := m.cg.Update(toResources(limits)); err != nil {
		return apierrors.Wrap(apierrors.ErrCgroupProgram, "update cgroup limits", err)
	}
	return nil
}

// Delete removes the cgroup. Safe to call on a cgroup with no remaining
// processes; callers must ensure the container has already exited.
func (m *Manager) Delete() error {
	if err := m.cg.Delete(); err != nil {
		return apierrors.Wrap(apierrors.ErrCgroupProgram, "delete cgroup", err)
	}
	return nil
}

// toResources translates ResourceLimits (CPU millicores, memory bytes, pids
// max) into cgroup2.Resources: cpu.max = "<quota> <period>", memory.max in
// bytes, pids.max as an int64.
func toResources(limits *types.ResourceLimits) *cgroup2.Resources {
	res := &cgroup2.Resources{}
	if limits == nil {
		return res
	}
	if limits.CPUMillis > 0 {
		period := periodMicros
		quota := int64(limits.CPUMillis) * int64(period) / 1000
		res.CPU = &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)}
	}
	if limits.MemoryBytes > 0 {
		max := limits.MemoryBytes
		res.Memory = &cgroup2.Memory{Max: &max}
	}
	if limits.PidsMax != nil {
		res.Pids = &cgroup2.Pids{Max: *limits.PidsMax}
	}
	return res
}
