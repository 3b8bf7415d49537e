/*
Package pod implements PTM, libra's pause+workers pod state machine.

A pod is one pause container (holding the shared network/pid/ipc/uts
namespaces) plus an ordered list of worker containers that join those
namespaces via /proc/<pause_pid>/ns/<type>. Manager.Create composes
bundles and runc-creates every container without starting anything,
attaching the pause's netns to the network before any worker is created;
Manager.Start starts the pause, then each worker in declaration order,
stopping already-started workers if a later one fails. Manager.Delete
stops and removes workers in reverse order, detaches the network, then
stops and removes the pause — idempotent on an unknown pod_id.

Per-pod operations serialize through a sync.Map of per-pod mutexes; the
registry itself is guarded by a separate RWMutex so List/Phases never block
behind a single pod's lifecycle call.
*/
package pod
