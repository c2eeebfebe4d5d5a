package otel_test

import (
	"context"
	"testing"

	entrypoint "github.com/mughalz/investordefend/internal/platform/cmd"
	"github.com/mughalz/investordefend/internal/platform/otel"
)

func TestSetupWithoutExporterIsNoop(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		enabled  string
	}{
		{"no endpoint", "", ""},
		{"disabled", "http://localhost:4318", "false"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("INVESTORDEFEND_OTEL_ENDPOINT", tc.endpoint)
			t.Setenv("INVESTORDEFEND_OTEL_ENABLED", tc.enabled)
			for _, service := range []string{entrypoint.ServiceAuthority, entrypoint.ServiceCoordinator} {
				shutdown, err := otel.Setup(context.Background(), service)
				if err != nil {
					t.Fatalf("setup %s: %v", service, err)
				}
				if err := shutdown(context.Background()); err != nil {
					t.Fatalf("shutdown %s: %v", service, err)
				}
			}
		})
	}
}

func TestSetupRejectsMalformedRatio(t *testing.T) {
	t.Setenv("INVESTORDEFEND_OTEL_SAMPLE_RATIO", "half")

	if _, err := otel.Setup(context.Background(), entrypoint.ServiceCoordinator); err == nil {
		t.Fatal("expected parse error")
	}
}
