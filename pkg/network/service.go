// Package network implements NS: network attachment for pods and
// containers. It manages bridge interfaces and subnets with
// vishvananda/netlink, delegates the ADD/DEL/CHECK plugin contract to
// pkg/cni, and republishes host-mode ports via iptables (hostports.go).
package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/cni"
	"github.com/cuemby/libra/pkg/types"
)

// Config configures where CNI conflists and plugin binaries live.
type Config struct {
	ConfDir    string
	PluginDirs []string
}

// Service is NS: attach/detach/create_network/delete_network.
type Service struct {
	cfg    Config
	invoke *cni.Invoker
	ports  *HostPortPublisher

	mu       sync.Mutex
	networks map[string]types.NetworkSpec // name -> spec, in-memory registry
}

// New returns a Service bound to cfg.
func New(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		invoke:   cni.New(cfg.PluginDirs, cfg.ConfDir),
		ports:    NewHostPortPublisher(),
		networks: make(map[string]types.NetworkSpec),
	}
}

// CreateNetwork ensures the named bridge network exists: a Linux bridge
// interface with the requested subnet's gateway address, and a conflist on
// disk for pkg/cni to resolve. Idempotent.
func (s *Service) CreateNetwork(name string, spec types.NetworkSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subnet := spec.Subnet
	if subnet == "" {
		subnet = "172.30.0.0/24"
	}
	gateway, err := defaultGateway(subnet)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "compute gateway", err)
	}

	bridgeName := bridgeNameFor(name)
	if err := ensureBridge(bridgeName, gateway); err != nil {
		return err
	}

	gwIP, _, _ := parseCIDRIP(gateway)
	if err := writeConflist(s.cfg.ConfDir, name, bridgeName, subnet, gwIP); err != nil {
		return err
	}

	s.networks[name] = spec
	return nil
}

// DeleteNetwork removes a network's conflist and bridge. Best-effort: only
// call once no pod/container still references the network.
func (s *Service) DeleteNetwork(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removeConflist(s.cfg.ConfDir, name); err != nil {
		return err
	}
	if err := removeBridge(bridgeNameFor(name)); err != nil {
		return err
	}
	delete(s.networks, name)
	return nil
}

// Attach invokes CNI ADD to join containerID's netns to network, and
// publishes any host-mode ports. Returns the assigned IP.
func (s *Service) Attach(ctx context.Context, network, containerID, netnsPath string, ports []types.PortMapping) (*types.IPAMResult, error) {
	result, err := s.invoke.Add(ctx, network, containerID, netnsPath, "eth0")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrNetworkSetupFailed, fmt.Sprintf("attach %s to %s", containerID, network), err)
	}

	ipam := &types.IPAMResult{
		IPAddress:  result.IPAddress,
		Gateway:    result.Gateway,
		Interfaces: result.Interfaces,
	}

	if len(ports) > 0 && ipam.IPAddress != "" {
		if err := s.ports.PublishPorts(containerID, ipam.IPAddress, ports); err != nil {
			_ = s.invoke.Del(ctx, network, containerID, netnsPath, "eth0")
			return nil, apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "publish ports", err)
		}
	}

	return ipam, nil
}

// Detach invokes CNI DEL and unpublishes any host-mode ports. Best-effort:
// errors are returned but callers proceed with their own cleanup per the
// concurrency model.
func (s *Service) Detach(ctx context.Context, network, containerID, netnsPath, containerIP string) error {
	_ = s.ports.UnpublishPorts(containerID, containerIP)
	if err := s.invoke.Del(ctx, network, containerID, netnsPath, "eth0"); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkTeardownFailed, fmt.Sprintf("detach %s from %s", containerID, network), err)
	}
	return nil
}

// Check verifies an existing attachment is still intact via CNI CHECK.
func (s *Service) Check(ctx context.Context, network, containerID, netnsPath string) error {
	return s.invoke.Check(ctx, network, containerID, netnsPath, "eth0")
}

func parseCIDRIP(cidr string) (string, string, error) {
	for i, c := range cidr {
		if c == '/' {
			return cidr[:i], cidr[i+1:], nil
		}
	}
	return cidr, "", fmt.Errorf("not a CIDR: %s", cidr)
}
