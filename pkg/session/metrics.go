package session

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type meters struct {
	refreshes metric.Int64Counter
	coalesced metric.Int64Counter
}

func newMeters() (*meters, error) {
	meter := otel.Meter(
		"fwh/session-agent",
		metric.WithInstrumentationVersion(otel.Version()),
	)

	refreshes, err := meter.Int64Counter(
		"session.refresh_count",
		metric.WithDescription("Token refresh attempts by outcome"),
		metric.WithUnit("attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh_count meter: %w", err)
	}

	coalesced, err := meter.Int64Counter(
		"session.refresh_coalesced",
		metric.WithDescription("Callers attached to an already in-flight refresh"),
		metric.WithUnit("caller"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh_coalesced meter: %w", err)
	}

	return &meters{refreshes: refreshes, coalesced: coalesced}, nil
}

func outcomeAttrs(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
