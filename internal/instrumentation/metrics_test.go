package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "POST", "/chat", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "GET", "/authorize", 302, 5*time.Millisecond)
}

func TestMetrics_RecordCompletion(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()

	// Should not panic
	metrics.RecordCompletion(ctx, "groq", StatusSuccess, 800*time.Millisecond)
	metrics.RecordCompletion(ctx, "openai", StatusError, 200*time.Millisecond)
}

func TestMetrics_RecordHandshake(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()

	// Should not panic
	metrics.RecordHandshake(ctx, HandshakeResultSuccess)
	metrics.RecordHandshake(ctx, HandshakeResultFailure)
	metrics.RecordHandshake(ctx, HandshakeResultExpired)
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()

	// Should not panic
	metrics.RecordToolInvocation(ctx, "search_events", StatusSuccess, 100*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "smart_schedule_event", StatusError, 500*time.Millisecond)
}

func TestMetrics_RecordCalendarOperation(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()

	// Should not panic
	metrics.RecordCalendarOperation(ctx, "events.insert", StatusSuccess, 200*time.Millisecond)
	metrics.RecordCalendarOperation(ctx, "freebusy.query", StatusError, 50*time.Millisecond)
}

func TestMetrics_ActiveConversations(t *testing.T) {
	ctx := context.Background()
	metrics := newTestProvider(t).Metrics()

	// Should not panic
	metrics.IncrementActiveConversations(ctx)
	metrics.IncrementActiveConversations(ctx)
	metrics.DecrementActiveConversations(ctx)
}

func TestMetrics_NoOp_WhenDisabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil even when disabled")
	}

	// All these should not panic even with nil underlying metrics
	metrics.RecordHTTPRequest(ctx, "POST", "/chat", 200, 100*time.Millisecond)
	metrics.RecordCompletion(ctx, "groq", StatusSuccess, 800*time.Millisecond)
	metrics.RecordHandshake(ctx, HandshakeResultSuccess)
	metrics.RecordToolInvocation(ctx, "search_events", StatusSuccess, 100*time.Millisecond)
	metrics.RecordCalendarOperation(ctx, "events.list", StatusSuccess, 100*time.Millisecond)
	metrics.IncrementActiveConversations(ctx)
	metrics.DecrementActiveConversations(ctx)
}

func TestProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if provider.Enabled() {
		t.Error("expected provider to report disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider should be a no-op, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		wantErr  bool
	}{
		{name: "prometheus", exporter: ExporterPrometheus},
		{name: "stdout", exporter: ExporterStdout},
		{name: "empty defaults later", exporter: ""},
		{name: "unknown", exporter: "graphite", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{MetricsExporter: tt.exporter}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
