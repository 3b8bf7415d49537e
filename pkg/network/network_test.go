package network

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/libra/pkg/types"
)

func TestDefaultGateway(t *testing.T) {
	gw, err := defaultGateway("172.30.0.0/24")
	assert.NoError(t, err)
	assert.Equal(t, "172.30.0.1/24", gw)
}

func TestBridgeNameForTruncates(t *testing.T) {
	name := bridgeNameFor("a-very-long-network-name")
	assert.LessOrEqual(t, len(name), 15)
}

func TestParseCIDRIP(t *testing.T) {
	ip, mask, err := parseCIDRIP("10.0.0.1/24")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)
	assert.Equal(t, "24", mask)
}

func TestProtocolString(t *testing.T) {
	assert.Equal(t, "tcp", protocolString(""))
	assert.Equal(t, "udp", protocolString(types.ProtocolUDP))
}

func TestHostPortPublisherNoHostPorts(t *testing.T) {
	p := NewHostPortPublisher()
	err := p.PublishPorts("pod-1", "10.0.0.5", []types.PortMapping{{ContainerPort: 8080}})
	assert.NoError(t, err)
	assert.Empty(t, p.published)
}
