// Package telemetry wraps OpenTelemetry SDK initialization, giving ragflow a
// single place to configure the TracerProvider and MeterProvider behind the
// engine's query and stage spans. With telemetry disabled the globals stay
// noop and nothing connects to an external service.
package telemetry
