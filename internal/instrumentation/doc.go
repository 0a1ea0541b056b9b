// Package instrumentation provides OpenTelemetry metrics for the service.
//
// The provider owns the meter provider lifecycle and exposes a Metrics
// recorder covering the HTTP boundary, chat completions, OAuth handshakes,
// tool invocations, and Google Calendar operations. Metrics are exported
// via a pull-based Prometheus endpoint by default; a stdout exporter is
// available for development.
//
// When instrumentation is disabled the recorder degrades to no-ops, so
// callers never need to branch on whether metrics are active.
package instrumentation
