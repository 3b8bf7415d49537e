package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/libra/pkg/types"
)

func TestToposortOrdersByDependency(t *testing.T) {
	services := map[string]types.ServiceSpec{
		"web":   {DependsOn: []string{"api"}},
		"api":   {DependsOn: []string{"db"}},
		"db":    {},
		"cache": {},
	}
	order, err := toposort(services)
	require.NoError(t, err)
	assert.Equal(t, 4, len(order))
	assert.Less(t, indexOf(order, "db"), indexOf(order, "api"))
	assert.Less(t, indexOf(order, "api"), indexOf(order, "web"))
}

func TestToposortDetectsCycle(t *testing.T) {
	services := map[string]types.ServiceSpec{
		"a": {DependsOn: []string{"b"}},
		"b": {DependsOn: []string{"a"}},
	}
	_, err := toposort(services)
	assert.ErrorContains(t, err, "dependency cycle")
}

func TestToposortRejectsUnknownDependency(t *testing.T) {
	services := map[string]types.ServiceSpec{
		"a": {DependsOn: []string{"ghost"}},
	}
	_, err := toposort(services)
	assert.ErrorContains(t, err, "unknown service")
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "shop-web", containerName("shop", "web"))
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
