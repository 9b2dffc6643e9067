// Package otel bridges the engine's internal counters to an OpenTelemetry
// meter. The engine itself never depends on a metrics backend; this package
// is opt-in glue for deployments that already run an OTel pipeline.
package otel
