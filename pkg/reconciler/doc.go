/*
Package reconciler implements MWR: a single reconcile loop that drives PTM
toward whatever a Source currently reports as desired, shared verbatim
between daemon mode (DirSource, a manifest directory watched with
fsnotify) and cluster mode (pkg/nodeagent, a gRPC assignment stream).

Each tick computes desired (from Source.Load) and observed (from
pkg/pod.Manager.List/State), then: creates+starts pods in desired but not
observed, deletes pods observed but not desired, and recreates pods whose
spec hash changed. Pods stuck in the Failed phase are retried under an
exponential backoff (1s initial, 30s cap, reset on success) instead of
every tick. A tick is single-flighted — a trigger arriving mid-cycle
coalesces into one more cycle immediately after, never running concurrently
with it.
*/
package reconciler
