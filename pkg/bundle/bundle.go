// Package bundle composes OCI runtime bundles (config.json + rootfs) for
// ORA to run, using github.com/opencontainers/runtime-spec for the config
// encoding and github.com/containerd/continuity/fs to materialize rootfs
// trees, preferring hardlinks when source and destination share a
// filesystem.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/continuity/fs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/types"
)

// Composer builds working bundles under a root directory, e.g.
// /var/lib/libra/bundles/<container_id>.
type Composer struct {
	root string
}

// New returns a Composer rooted at root.
func New(root string) *Composer {
	return &Composer{root: root}
}

// BundlePath returns the working bundle directory for containerID.
func (c *Composer) BundlePath(containerID string) string {
	return filepath.Join(c.root, containerID)
}

// Compose materializes a bundle for spec at imageRootfs (an already
// unpacked OCI image rootfs) and returns the working bundle path. Rootfs is
// hardlinked when imageRootfs and the bundle root share a device, else
// deep-copied via continuity/fs.
func (c *Composer) Compose(containerID, imageRootfs string, spec *types.ContainerSpec) (string, error) {
	bundleDir := c.BundlePath(containerID)
	rootfsDir := filepath.Join(bundleDir, "rootfs")

	if err := os.MkdirAll(rootfsDir, 0o755); err != nil {
		return "", apierrors.Wrap(apierrors.ErrBundleInvalid, "create bundle dir", err)
	}

	if err := materializeRootfs(imageRootfs, rootfsDir); err != nil {
		return "", apierrors.Wrap(apierrors.ErrBundleInvalid, "materialize rootfs", err)
	}

	ociSpec := baseSpec(spec)
	if err := writeConfig(bundleDir, ociSpec); err != nil {
		return "", err
	}
	return bundleDir, nil
}

// ShareNamespaces rewrites the bundle's config.json so the pid/net/ipc/uts
// namespaces point at an already-running pause process via
// /proc/<pausePid>/ns/<type>, implementing PTM's namespace-sharing
// protocol for worker containers in a pod.
func (c *Composer) ShareNamespaces(bundleDir string, pausePid int) error {
	path := filepath.Join(bundleDir, "config.json")
	spec, err := readConfig(path)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrNamespaceShareFailed, "read config.json", err)
	}

	shared := map[specs.LinuxNamespaceType]bool{
		specs.PIDNamespace: true,
		specs.NetworkNamespace: true,
		specs.IPCNamespace: true,
		specs.UTSNamespace: true,
	}

	namespaces := make([]specs.LinuxNamespace, 0, len(spec.Linux.Namespaces))
	for _, ns := range spec.Linux.Namespaces {
		if shared[ns.Type] {
			ns.Path = fmt.Sprintf("/proc/%d/ns/%s", pausePid, nsFile(ns.Type))
		}
		namespaces = append(namespaces, ns)
	}
	spec.Linux.Namespaces = namespaces

	if err := writeConfig(bundleDir, spec); err != nil {
		return apierrors.Wrap(apierrors.ErrNamespaceShareFailed, "rewrite config.json", err)
	}
	return nil
}

// Remove deletes a working bundle directory.
func (c *Composer) Remove(containerID string) error {
	return os.RemoveAll(c.BundlePath(containerID))
}

func nsFile(t specs.LinuxNamespaceType) string {
	switch t {
	case specs.PIDNamespace:
		return "pid"
	case specs.NetworkNamespace:
		return "net"
	case specs.IPCNamespace:
		return "ipc"
	case specs.UTSNamespace:
		return "uts"
	case specs.MountNamespace:
		return "mnt"
	case specs.UserNamespace:
		return "user"
	case specs.CgroupNamespace:
		return "cgroup"
	default:
		return string(t)
	}
}

// materializeRootfs hardlinks src into dst when they share a device,
// falling back to a recursive copy across filesystem boundaries.
func materializeRootfs(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	dstParentInfo, err := os.Stat(filepath.Dir(dst))
	if err != nil {
		return err
	}

	if sameDevice(srcInfo, dstParentInfo) {
		if err := hardlinkTree(src, dst); err == nil {
			return nil
		}
	}
	return fs.CopyDir(dst, src)
}

// hardlinkTree recreates src's directory structure under dst, hardlinking
// regular files instead of copying their contents.
func hardlinkTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return os.Link(path, target)
	})
}

func writeConfig(bundleDir string, spec *specs.Spec) error {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return apierrors.Wrap(apierrors.ErrBundleInvalid, "marshal config.json", err)
	}
	path := filepath.Join(bundleDir, "config.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierrors.Wrap(apierrors.ErrBundleInvalid, "write config.json", err)
	}
	return os.Rename(tmp, path)
}

func readConfig(path string) (*specs.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// baseSpec builds a minimal OCI runtime spec for a ContainerSpec, with the
// namespace set every container gets by default (to be narrowed by
// ShareNamespaces for pod workers).
func baseSpec(cs *types.ContainerSpec) *specs.Spec {
	env := make([]string, 0, len(cs.Env))
	for k, v := range cs.Env {
		env = append(env, k+"="+v)
	}

	mounts := defaultMounts()
	for _, m := range cs.Mounts {
		opts := []string{"rbind"}
		if m.Mode == types.MountReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Destination: m.Target,
			Type:        "bind",
			Source:      m.Source,
			Options:     opts,
		})
	}

	return &specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{
			Args: append([]string{}, cs.Args...),
			Env:  env,
			Cwd:  "/",
		},
		Hostname: cs.Name,
		Mounts:   mounts,
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.NetworkNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
			},
		},
	}
}

func defaultMounts() []specs.Mount {
	return []specs.Mount{
		{Destination: "/proc", Type: "proc", Source: "proc"},
		{Destination: "/dev", Type: "tmpfs", Source: "tmpfs", Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
		{Destination: "/sys", Type: "sysfs", Source: "sysfs", Options: []string{"nosuid", "noexec", "nodev", "ro"}},
	}
}
