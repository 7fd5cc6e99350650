// Package prometheus provides Prometheus collectors for authsession metrics.
//
// [NewPrometheusExporter] accepts an [authsession.Manager] and exposes an
// [http.Handler] that renders all authsession counters in Prometheus text
// exposition format. Counter names are prefixed authsession_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate session state.
package prometheus
