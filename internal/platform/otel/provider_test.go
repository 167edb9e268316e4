package otel_test

import (
	"context"
	"testing"

	"github.com/seminarhq/seminar/internal/platform/otel"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("SEMINAR_OTEL_ENDPOINT", "")
	t.Setenv("SEMINAR_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "seminar-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("SEMINAR_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SEMINAR_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "seminar-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
