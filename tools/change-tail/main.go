// Command change-tail follows the availability change-event topic and prints
// one line per event.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/freeslots/libs/config"
	"github.com/md-rashed-zaman/freeslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/freeslots/libs/otel"
	"github.com/md-rashed-zaman/freeslots/libs/runtime"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

type changeEvent struct {
	Type       string    `json:"type"`
	Student    string    `json:"student"`
	Day        string    `json:"day"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	OccurredAt time.Time `json:"occurred_at"`
}

func main() {
	var (
		brokers   = flag.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
		topic     = flag.String("topic", config.String("KAFKA_CHANGES_TOPIC", "availability.changes.v1"), "change-event topic")
		group     = flag.String("group", config.String("KAFKA_GROUP_ID", ""), "consumer group (default: a fresh one per run)")
		beginning = flag.Bool("from-beginning", false, "start at the oldest retained event")
		raw       = flag.Bool("raw", false, "print message values unchanged")
	)
	flag.Parse()

	logger := runtime.NewLogger("change-tail", config.String("LOG_LEVEL", "warn"))
	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	// Registers the trace-context propagator; no exporter is started.
	if _, err := otelx.Setup(ctx, otelx.Config{ServiceName: "change-tail"}); err != nil {
		logger.Warn("otel setup failed", "err", err)
	}

	addrs := kafkax.SplitBrokers(*brokers)
	if len(addrs) == 0 {
		fatal("no kafka brokers configured")
	}
	groupID := strings.TrimSpace(*group)
	if groupID == "" {
		groupID = "change-tail-" + uuid.NewString()
	}
	startOffset := kafka.LastOffset
	if *beginning {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     addrs,
		GroupID:     groupID,
		Topic:       *topic,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	logger.Info("tailing change events", "topic", *topic, "group", groupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Error("kafka read failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if *raw {
			fmt.Println(string(msg.Value))
			continue
		}
		line, err := formatEvent(ctx, msg)
		if err != nil {
			logger.Warn("skipping undecodable event", "err", err, "offset", msg.Offset, "partition", msg.Partition)
			continue
		}
		fmt.Println(line)
	}
}

// formatEvent renders a change message as a single line. The trace id is
// shown when the producer attached trace headers.
func formatEvent(ctx context.Context, msg kafka.Message) (string, error) {
	var ev changeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return "", fmt.Errorf("decode event: %w", err)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if ev.Type == "" {
		ev.Type = meta.EventType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-16s %s", ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.Student)
	if ev.Day != "" {
		fmt.Fprintf(&b, " %s %s-%s", ev.Day, ev.Start, ev.End)
	}
	fmt.Fprintf(&b, " event_id=%s", meta.EventID)
	if sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(ctx, msg)); sc.IsValid() {
		fmt.Fprintf(&b, " trace_id=%s", sc.TraceID())
	}
	return b.String(), nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
