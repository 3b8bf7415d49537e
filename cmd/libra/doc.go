// Command libra is the CLI entry point: a cobra tree over container (CTM),
// pod (PTM), and compose (CT), each subcommand building its own stack of
// collaborators from --data-dir so there's no long-lived daemon process
// required for one-shot operations. `pod daemon` is the exception: it runs
// MWR's reconcile loop and PTM's health/restart monitor in the foreground
// until interrupted.
package main
