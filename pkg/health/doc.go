/*
Package health implements the three healthcheck probe types a pod or
container spec can declare: HTTP, TCP, and Exec. Each is a Checker
(Check(ctx) Result, Type() CheckType); Status tracks consecutive
failures/successes against a Config's Retries threshold and StartPeriod
grace window to decide whether a container is currently Healthy.

ExecChecker runs its command through an Execer — pkg/container.Manager's
Exec method, or pkg/pod's adapter over pod.Manager.Exec — rather than
shelling out on the host, so "exec" checks run inside the target
container's namespaces like any other exec call.

pkg/pod.Manager.Monitor polls each worker's Checker on every monitor tick
and feeds Results into Status.Update; a worker that goes unhealthy is
reported through events.EventHealthCheckFailed and its pod is marked
Failed, which MWR recreates.
*/
package health
