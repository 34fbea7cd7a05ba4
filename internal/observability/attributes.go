// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrCommand = "command"
	attrOutcome = "outcome"
	attrBackend = "backend"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func commandAttr(command string) attribute.KeyValue {
	if command == "" {
		command = "unknown"
	}
	return attribute.String(attrCommand, command)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String(attrBackend, backend)
}

// normalizePath replaces job ids with a placeholder to bound cardinality.
func normalizePath(path string) string {
	const prefix = "/v1/jobs/"
	if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
		return prefix + "{jobId}"
	}
	return path
}

// WithCommand returns a metric option with the command attribute.
func WithCommand(command string) metric.MeasurementOption {
	return metric.WithAttributes(commandAttr(command))
}

// WithOutcome returns a metric option with the outcome attribute.
func WithOutcome(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(outcomeAttr(outcome))
}

// WithBackend returns a metric option with the backend attribute.
func WithBackend(backend string) metric.MeasurementOption {
	return metric.WithAttributes(backendAttr(backend))
}
