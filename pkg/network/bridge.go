package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/cuemby/libra/pkg/apierrors"
)

// ensureBridge idempotently creates a Linux bridge named name with the
// given gateway address (CIDR), leaving an already-present bridge alone.
func ensureBridge(name, gatewayCIDR string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return nil
	}

	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: name},
	}
	if err := netlink.LinkAdd(br); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, fmt.Sprintf("create bridge %s", name), err)
	}

	if gatewayCIDR != "" {
		addr, err := netlink.ParseAddr(gatewayCIDR)
		if err != nil {
			return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "parse bridge gateway", err)
		}
		if err := netlink.AddrAdd(br, addr); err != nil {
			return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, fmt.Sprintf("assign address to bridge %s", name), err)
		}
	}

	if err := netlink.LinkSetUp(br); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, fmt.Sprintf("bring up bridge %s", name), err)
	}
	return nil
}

// removeBridge deletes the named bridge if present; used when a compose
// project's last consumer of a network is torn down.
func removeBridge(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil // already gone
	}
	if err := netlink.LinkDel(link); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkTeardownFailed, fmt.Sprintf("delete bridge %s", name), err)
	}
	return nil
}

// defaultGateway returns the first usable address of subnet (commonly
// .1), used as a bridge's own address and CNI's host-local gateway.
func defaultGateway(subnet string) (string, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", fmt.Errorf("parse subnet %s: %w", subnet, err)
	}
	ip := ipnet.IP.To4()
	if ip == nil {
		return "", fmt.Errorf("subnet %s is not IPv4", subnet)
	}
	gw := make(net.IP, len(ip))
	copy(gw, ip)
	gw[3]++
	ones, _ := ipnet.Mask.Size()
	return fmt.Sprintf("%s/%d", gw.String(), ones), nil
}
