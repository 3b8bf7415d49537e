package network

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/libra/pkg/types"
)

// HostPortPublisher programs iptables DNAT/MASQUERADE/FORWARD rules so a
// bridge-attached pod or container's published ports are reachable on the
// node's own interfaces.
type HostPortPublisher struct {
	published map[string][]types.PortMapping // owner id -> ports
}

// NewHostPortPublisher creates a new host port publisher.
func NewHostPortPublisher() *HostPortPublisher {
	return &HostPortPublisher{
		published: make(map[string][]types.PortMapping),
	}
}

// PublishPorts sets up iptables rules forwarding each port with a non-zero
// HostPort to containerIP:ContainerPort.
func (p *HostPortPublisher) PublishPorts(ownerID, containerIP string, ports []types.PortMapping) error {
	var hostPorts []types.PortMapping
	for _, port := range ports {
		if port.HostPort != 0 {
			hostPorts = append(hostPorts, port)
		}
	}
	if len(hostPorts) == 0 {
		return nil
	}

	for _, port := range hostPorts {
		if err := p.setupPortForwarding(containerIP, port); err != nil {
			p.removePorts(hostPorts, containerIP)
			return fmt.Errorf("publish port %d:%d: %w", port.HostPort, port.ContainerPort, err)
		}
	}

	p.published[ownerID] = hostPorts
	return nil
}

// UnpublishPorts removes iptables rules for ownerID's published ports.
func (p *HostPortPublisher) UnpublishPorts(ownerID, containerIP string) error {
	ports, ok := p.published[ownerID]
	if !ok {
		return nil
	}
	p.removePorts(ports, containerIP)
	delete(p.published, ownerID)
	return nil
}

func (p *HostPortPublisher) setupPortForwarding(containerIP string, port types.PortMapping) error {
	protocol := protocolString(port.Protocol)

	dnat := []string{
		"-t", "nat", "-A", "PREROUTING",
		"-p", protocol, "--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	}
	if err := runIPTables(dnat); err != nil {
		return fmt.Errorf("add DNAT rule: %w", err)
	}

	masq := []string{
		"-t", "nat", "-A", "POSTROUTING",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	}
	if err := runIPTables(masq); err != nil {
		p.removePortForwarding(containerIP, port)
		return fmt.Errorf("add MASQUERADE rule: %w", err)
	}

	forward := []string{
		"-A", "FORWARD",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	}
	if err := runIPTables(forward); err != nil {
		p.removePortForwarding(containerIP, port)
		return fmt.Errorf("add FORWARD rule: %w", err)
	}
	return nil
}

func (p *HostPortPublisher) removePortForwarding(containerIP string, port types.PortMapping) {
	protocol := protocolString(port.Protocol)

	_ = runIPTables([]string{
		"-t", "nat", "-D", "PREROUTING",
		"-p", protocol, "--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	})
	_ = runIPTables([]string{
		"-t", "nat", "-D", "POSTROUTING",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	})
	_ = runIPTables([]string{
		"-D", "FORWARD",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	})
}

func (p *HostPortPublisher) removePorts(ports []types.PortMapping, containerIP string) {
	for _, port := range ports {
		p.removePortForwarding(containerIP, port)
	}
}

func protocolString(proto types.Protocol) string {
	if proto == "" {
		return string(types.ProtocolTCP)
	}
	return strings.ToLower(string(proto))
}

func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
