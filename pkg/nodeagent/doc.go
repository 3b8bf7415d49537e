/*
Package nodeagent implements NA: a gRPC client that receives a stream of
pod assignments from a control plane and republishes them through the
same reconciler.Source interface DirSource implements, so MWR drives
toward cluster-assigned pods exactly the way it drives toward manifest
files in daemon mode.

There is no protoc step in this build; StreamAssignments is called with
a hand-registered JSON codec (grpc.CallContentSubtype) carrying
types.Assignment values instead of generated protobuf messages. Every
assignment received is persisted to a local bbolt database keyed by
pod name, so a restarted agent has a desired set to hand the
reconciler before its first successful reconnect.
*/
package nodeagent
