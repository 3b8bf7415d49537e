/*
Package log provides structured logging for libra using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("libra daemon starting")

	podLog := log.WithPodID("pod-abc123")
	podLog.Info().Str("phase", "Running").Msg("pod reconciled")

	log.Logger.Error().
		Err(err).
		Str("container_id", "web-1").
		Msg("container exited unexpectedly")

# Context Loggers

  - WithComponent: tag all logs from a subsystem (e.g. "reconciler", "ociruntime")
  - WithPodID: tag logs scoped to a single pod
  - WithContainerID: tag logs scoped to a single container
  - WithProjectName: tag logs scoped to a compose project

# Log Output

JSON (production):

	{"level":"info","component":"pod","pod_id":"web-1","time":"...","message":"pod started"}

Console (development):

	2025-01-15T10:30:00Z INF pod started component=pod pod_id=web-1

Do not log secrets, tokens, or full spec env maps verbatim; use typed
fields and let downstream log-scrubbing handle redaction policy.
*/
package log
