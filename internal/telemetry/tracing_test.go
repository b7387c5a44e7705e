package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		shutdown, err := InitTracing(context.Background(), domain.TracingConfig{}, "test")
		if err != nil {
			t.Fatalf("InitTracing failed: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		previous := otel.GetTracerProvider()
		t.Cleanup(func() { otel.SetTracerProvider(previous) })

		shutdown, err := InitTracing(context.Background(), domain.TracingConfig{
			Enabled:      true,
			ServiceName:  "leadwatch-test",
			OTLPEndpoint: "127.0.0.1:4317",
			Insecure:     true,
			SamplingRate: 1,
		}, "test")
		if err != nil {
			t.Fatalf("InitTracing failed: %v", err)
		}

		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Errorf("expected SDK tracer provider, got %T", otel.GetTracerProvider())
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}
