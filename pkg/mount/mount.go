// Package mount materializes the host side of a ContainerSpec's bind
// mounts: named compose volumes become directories under a local volumes
// root, plain host paths and config-ref mounts pass through unchanged.
// Grounded on the teacher's local volume driver (directories under a
// volumes root, created on demand), narrowed to libra's single-node scope
// since there is no remote volume driver registry here.
package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/types"
)

// Manager resolves named volumes to host directories under root.
type Manager struct {
	root string
}

// New returns a Manager rooted at root (e.g. /var/lib/libra/volumes).
func New(root string) *Manager {
	return &Manager{root: root}
}

// Resolve returns the host path for a compose named volume, creating its
// backing directory on first use.
func (m *Manager) Resolve(name string) (string, error) {
	path := filepath.Join(m.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", apierrors.Wrap(apierrors.ErrBundleInvalid, fmt.Sprintf("create volume %s", name), err)
	}
	return path, nil
}

// Remove deletes a named volume's backing directory.
func (m *Manager) Remove(name string) error {
	return os.RemoveAll(filepath.Join(m.root, name))
}

// ResolveMounts expands a ServiceSpec's named-volume references into
// concrete MountSpecs, combining them with any mounts already declared
// inline on the ContainerSpec. A compose "volumes" entry of the form
// "name:/target[:ro]" resolves name via Resolve; an absolute source such as
// "/host/path:/target" passes the host path through unchanged, and any
// other non-absolute source is treated as a volume name.
func (m *Manager) ResolveMounts(volumes []string, existing []types.MountSpec) ([]types.MountSpec, error) {
	out := append([]types.MountSpec{}, existing...)
	for _, v := range volumes {
		spec, err := parseVolumeEntry(v)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(spec.Source) {
			path, err := m.Resolve(spec.Source)
			if err != nil {
				return nil, err
			}
			spec.Source = path
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseVolumeEntry(entry string) (types.MountSpec, error) {
	parts := splitN(entry, ':', 3)
	if len(parts) < 2 {
		return types.MountSpec{}, apierrors.Wrap(apierrors.ErrSpecInvalid, fmt.Sprintf("invalid volume entry %q", entry), nil)
	}
	mode := types.MountReadWrite
	if len(parts) == 3 && parts[2] == "ro" {
		mode = types.MountReadOnly
	}
	return types.MountSpec{Source: parts[0], Target: parts[1], Mode: mode}, nil
}

func splitN(s string, sep byte, n int) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s) && len(parts) < n-1; i++ {
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
