// Package telemetry wraps OpenTelemetry SDK initialization.
package telemetry
