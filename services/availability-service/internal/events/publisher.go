// Package events ships store changes to Kafka. The store enqueues changes
// without blocking; a single goroutine drains the queue into a kafka.Writer.
package events

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/md-rashed-zaman/freeslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/freeslots/libs/otel"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers string
	Topic   string
	Buffer  int
	// BatchSize caps how many queued changes go out in one write.
	BatchSize int
}

type queued struct {
	change model.Change
	trace  otelx.TraceContext
}

type Publisher struct {
	writer    MessageWriter
	topic     string
	queue     chan queued
	batchSize int
	logger    *slog.Logger
	done      chan struct{}
}

// NewPublisher returns nil when no brokers are configured; the store then
// runs without change events.
func NewPublisher(logger *slog.Logger, cfg PublisherConfig) *Publisher {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn("change events disabled (no kafka brokers configured)")
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
	}
	return newPublisher(writer, logger, cfg)
}

func newPublisher(writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = "availability.changes.v1"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		writer:    writer,
		topic:     cfg.Topic,
		queue:     make(chan queued, cfg.Buffer),
		batchSize: cfg.BatchSize,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Notify enqueues the change, dropping it when the queue is full.
func (p *Publisher) Notify(ctx context.Context, change model.Change) {
	select {
	case p.queue <- queued{change: change, trace: otelx.CaptureTraceContext(ctx)}:
	default:
		p.logger.Warn("change event dropped (queue full)", "event_id", change.EventID, "type", change.Type)
	}
}

// Run publishes until ctx is cancelled, then flushes what is still queued
// with a short grace period and closes the writer.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Error("kafka writer close failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.flush(flushCtx)
			cancel()
			return
		case q := <-p.queue:
			p.publish(ctx, p.collect(q))
		}
	}
}

// Done is closed once Run has returned.
func (p *Publisher) Done() <-chan struct{} { return p.done }

func (p *Publisher) collect(first queued) []queued {
	batch := []queued{first}
	for len(batch) < p.batchSize {
		select {
		case q := <-p.queue:
			batch = append(batch, q)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		select {
		case q := <-p.queue:
			p.publish(ctx, p.collect(q))
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, batch []queued) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, q := range batch {
		payload, err := json.Marshal(q.change)
		if err != nil {
			p.logger.Error("change event encode failed", "err", err, "event_id", q.change.EventID)
			continue
		}
		msgCtx := otelx.ContextWithTraceContext(ctx, q.trace)
		msg := kafka.Message{
			Topic: p.topic,
			// Keyed by student so one student's changes stay ordered on one partition.
			Key:     []byte(q.change.Student),
			Value:   payload,
			Headers: kafkax.EventMeta{EventID: q.change.EventID, EventType: string(q.change.Type)}.Headers(),
			Time:    q.change.OccurredAt,
		}
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("change event publish failed", "err", err, "count", len(msgs))
	}
}
