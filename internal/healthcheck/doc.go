// Package healthcheck probes every registered service concurrently and
// writes the outcome back into the registry.
//
// A Monitor runs one cycle immediately on Start and then one per interval.
// A tick that fires while the previous cycle is still fanning out is
// skipped. Stop cancels the schedule without aborting probes already in
// flight; their results are discarded instead of committed. Results from an
// earlier monitoring session are discarded the same way after a restart.
//
// A probe classifies a service as:
//
//   - healthy: status below 500 and a body whose status is "ok" or "healthy"
//   - unhealthy: any other response, including 5xx and undecodable bodies
//   - error: connection failure or timeout, no response at all
//
// Compliance is reported next to the status and never changes it.
package healthcheck
