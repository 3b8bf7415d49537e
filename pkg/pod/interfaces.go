package pod

import (
	"context"
	"time"

	"github.com/cuemby/libra/pkg/types"
)

// Runtime is the subset of pkg/ociruntime.Adapter that PTM drives, narrowed
// to an interface so Manager's state machine can be driven against a fake
// in tests.
type Runtime interface {
	Create(ctx context.Context, containerID, bundleDir string) error
	Start(ctx context.Context, containerID string) error
	State(ctx context.Context, containerID string) (types.ContainerState, int, error)
	Stop(ctx context.Context, containerID string, stopTimeout time.Duration) error
	Delete(ctx context.Context, containerID string, force bool) error
	Exec(ctx context.Context, containerID string, req types.ExecRequest) (types.ExecResult, error)
}

// Bundles is the subset of pkg/bundle.Composer PTM drives.
type Bundles interface {
	Compose(containerID, imageRootfs string, spec *types.ContainerSpec) (string, error)
	ShareNamespaces(bundleDir string, pausePid int) error
	Remove(containerID string) error
}

// Network is the subset of pkg/network.Service PTM drives.
type Network interface {
	Attach(ctx context.Context, network, containerID, netnsPath string, ports []types.PortMapping) (*types.IPAMResult, error)
	Detach(ctx context.Context, network, containerID, netnsPath, containerIP string) error
}

// Store is the subset of pkg/store.Store PTM drives.
type Store interface {
	WritePod(podID string, v interface{}) error
	ReadPod(podID string, v interface{}) error
	RemovePod(podID string) error
	ListPods() ([]string, error)
}
