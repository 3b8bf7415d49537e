/*
Package container implements CTM, the standalone single-container state
machine used both directly (container run/create/start) and as the unit
pkg/compose drives for each service.

Unlike PTM's pause+workers model, a CTM container owns its own network
namespace by default: Start attaches it to the configured bridge network via
pkg/network and records the resulting netns path and IP. When
ContainerSpec.NetworkMode is "host", Start skips network attachment entirely
and records the host's own netns path, matching host-mode containers that
share the node's network stack outright.

Per-name operations serialize through a sync.Map of per-container mutexes,
mirroring pkg/pod's locking model.
*/
package container
