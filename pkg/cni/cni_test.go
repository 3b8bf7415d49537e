package cni

import (
	"net"
	"testing"

	cni100 "github.com/containernetworking/cni/pkg/types/100"
	"github.com/stretchr/testify/assert"
)

func TestToResult(t *testing.T) {
	result := &cni100.Result{
		IPs: []*cni100.IPConfig{
			{
				Address: net.IPNet{IP: net.ParseIP("10.88.0.5")},
				Gateway: net.ParseIP("10.88.0.1"),
			},
		},
		Interfaces: []*cni100.Interface{
			{Name: "eth0"},
		},
	}

	out := toResult(result)
	assert.Equal(t, "10.88.0.5", out.IPAddress)
	assert.Equal(t, "10.88.0.1", out.Gateway)
	assert.Equal(t, []string{"eth0"}, out.Interfaces)
}

func TestNewInvoker(t *testing.T) {
	inv := New([]string{"/opt/cni/bin"}, "/etc/libra/cni")
	assert.NotNil(t, inv)
	assert.Equal(t, "/etc/libra/cni", inv.confDir)
}
