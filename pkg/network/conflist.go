package network

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/libra/pkg/apierrors"
)

// writeConflist renders a minimal bridge+host-local conflist for network so
// pkg/cni's libcni invocation can resolve it by name.
func writeConflist(confDir, network, bridgeName, subnet, gateway string) error {
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "create cni conf dir", err)
	}

	conf := map[string]interface{}{
		"cniVersion": "1.0.0",
		"name":       network,
		"plugins": []map[string]interface{}{
			{
				"type":             "bridge",
				"bridge":           bridgeName,
				"isGateway":        true,
				"isDefaultGateway": true,
				"ipMasq":           true,
				"hairpinMode":      true,
				"ipam": map[string]interface{}{
					"type":   "host-local",
					"subnet": subnet,
					"gateway": gateway,
					"routes": []map[string]string{
						{"dst": "0.0.0.0/0"},
					},
				},
			},
			{
				"type": "portmap",
				"capabilities": map[string]bool{
					"portMappings": true,
				},
			},
		},
	}

	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "marshal conflist", err)
	}

	path := filepath.Join(confDir, network+".conflist")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierrors.Wrap(apierrors.ErrNetworkSetupFailed, "write conflist", err)
	}
	return os.Rename(tmp, path)
}

func removeConflist(confDir, network string) error {
	path := filepath.Join(confDir, network+".conflist")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierrors.Wrap(apierrors.ErrNetworkTeardownFailed, fmt.Sprintf("remove conflist %s", path), err)
	}
	return nil
}

// bridgeNameFor derives the host bridge interface name for a network,
// truncated to stay within Linux's 15-byte IFNAMSIZ limit.
func bridgeNameFor(network string) string {
	name := "libra-" + network
	if len(name) > 15 {
		name = name[:15]
	}
	return name
}
