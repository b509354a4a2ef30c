package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrierSetOverwrites(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	if len(c) != 1 {
		t.Fatalf("expected a single header, got %d", len(c))
	}
	if got := c.Get("traceparent"); got != "b" {
		t.Fatalf("expected overwritten value, got %q", got)
	}
	if got := c.Get("missing"); got != "" {
		t.Fatalf("expected empty value for missing key, got %q", got)
	}
}

func TestTraceContextSurvivesHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	InjectTraceContext(ctx, &headers)
	if len(headers) == 0 {
		t.Fatal("expected trace headers to be injected")
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	if got.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", got.TraceID())
	}
	if got.SpanID() != spanID {
		t.Fatalf("span id mismatch: %s", got.SpanID())
	}
}
