// Package cni invokes CNI plugin binaries to attach and detach a
// container's network namespace from a bridge network, using the
// containernetworking/cni reference library rather than hand-rolling the
// ADD/DEL/CHECK + CNI_* environment variable contract.
package cni

import (
	"context"
	"fmt"
	"os"

	"github.com/containernetworking/cni/libcni"
	cni100 "github.com/containernetworking/cni/pkg/types/100"
)

// Invoker wraps libcni.CNI for a single conflist.
type Invoker struct {
	cni     libcni.CNI
	confDir string
}

// New returns an Invoker that looks up plugin binaries on pluginDirs and
// reads network conflists from confDir.
func New(pluginDirs []string, confDir string) *Invoker {
	exec := &libcni.RawExec{Stderr: os.Stderr}
	return &Invoker{
		cni:     libcni.NewCNIConfig(pluginDirs, exec),
		confDir: confDir,
	}
}

// Result is the subset of a CNI ADD result libra records.
type Result struct {
	IPAddress  string
	Gateway    string
	Interfaces []string
}

// Add invokes CNI ADD for containerID's netns using the named network's
// conflist, returning the assigned IP configuration.
func (inv *Invoker) Add(ctx context.Context, network, containerID, netnsPath, ifName string) (*Result, error) {
	netConf, err := inv.loadConfList(network)
	if err != nil {
		return nil, err
	}

	rt := runtimeConf(containerID, netnsPath, ifName)
	raw, err := inv.cni.AddNetworkList(ctx, netConf, rt)
	if err != nil {
		return nil, fmt.Errorf("cni ADD %s: %w", network, err)
	}
	result, err := cni100.NewResultFromResult(raw)
	if err != nil {
		return nil, fmt.Errorf("cni ADD %s: decode result: %w", network, err)
	}
	return toResult(result), nil
}

// Del invokes CNI DEL for containerID's netns. Called best-effort during
// teardown — a failure here does not block the caller's own cleanup.
func (inv *Invoker) Del(ctx context.Context, network, containerID, netnsPath, ifName string) error {
	netConf, err := inv.loadConfList(network)
	if err != nil {
		return err
	}
	rt := runtimeConf(containerID, netnsPath, ifName)
	if err := inv.cni.DelNetworkList(ctx, netConf, rt); err != nil {
		return fmt.Errorf("cni DEL %s: %w", network, err)
	}
	return nil
}

// Check invokes CNI CHECK to validate that an attachment is still intact.
func (inv *Invoker) Check(ctx context.Context, network, containerID, netnsPath, ifName string) error {
	netConf, err := inv.loadConfList(network)
	if err != nil {
		return err
	}
	rt := runtimeConf(containerID, netnsPath, ifName)
	return inv.cni.CheckNetworkList(ctx, netConf, rt)
}

func (inv *Invoker) loadConfList(network string) (*libcni.NetworkConfigList, error) {
	path := inv.confDir + "/" + network + ".conflist"
	netConf, err := libcni.ConfListFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load conflist %s: %w", path, err)
	}
	return netConf, nil
}

func runtimeConf(containerID, netnsPath, ifName string) *libcni.RuntimeConf {
	return &libcni.RuntimeConf{
		ContainerID: containerID,
		NetNS:       netnsPath,
		IfName:      ifName,
		Args: [][2]string{
			{"IgnoreUnknown", "true"},
		},
	}
}

func toResult(result *cni100.Result) *Result {
	out := &Result{}
	for _, ip := range result.IPs {
		if ip.Address.IP != nil {
			out.IPAddress = ip.Address.IP.String()
		}
		if ip.Gateway != nil {
			out.Gateway = ip.Gateway.String()
		}
	}
	for _, iface := range result.Interfaces {
		out.Interfaces = append(out.Interfaces, iface.Name)
	}
	return out
}
