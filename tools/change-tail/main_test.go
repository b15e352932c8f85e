package main

import (
	"context"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/freeslots/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestFormatEvent(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	msg := kafka.Message{
		Topic: "availability.changes.v1",
		Key:   []byte("Ann"),
		Value: []byte(`{"event_id":"e-1","type":"busy.added","student":"Ann","day":"Mon","start":"09:00","end":"10:00","occurred_at":"2026-01-05T09:00:00Z"}`),
		Headers: append(kafkax.EventMeta{EventID: "e-1", EventType: "busy.added"}.Headers(),
			kafka.Header{Key: "traceparent", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")},
		),
	}
	line, err := formatEvent(context.Background(), msg)
	if err != nil {
		t.Fatalf("formatEvent: %v", err)
	}
	for _, want := range []string{
		"2026-01-05T09:00:00Z",
		"busy.added",
		"Ann Mon 09:00-10:00",
		"event_id=e-1",
		"trace_id=4bf92f3577b34da6a3ce929d0e0e4736",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestFormatEventWithoutDay(t *testing.T) {
	line, err := formatEvent(context.Background(), kafka.Message{
		Key:   []byte("e-2"),
		Value: []byte(`{"type":"student.removed","student":"Bob","occurred_at":"2026-01-05T09:00:00Z"}`),
	})
	if err != nil {
		t.Fatalf("formatEvent: %v", err)
	}
	if strings.Contains(line, "trace_id") || !strings.HasSuffix(line, "Bob event_id=e-2") {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestFormatEventRejectsGarbage(t *testing.T) {
	if _, err := formatEvent(context.Background(), kafka.Message{Value: []byte("nope")}); err == nil {
		t.Fatalf("expected decode error")
	}
}
