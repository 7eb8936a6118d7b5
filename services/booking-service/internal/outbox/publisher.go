package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
)

// Source is an outbox table the publisher can drain.
type Source interface {
	ProcessUnpublished(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error)
}

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Observer receives publish outcomes; *metrics.Metrics implements it.
type Observer interface {
	OutboxPublished(n int, err error)
}

type Publisher struct {
	source    Source
	writer    Writer
	logger    *slog.Logger
	observer  Observer
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	Observer  Observer
}

// NewKafkaWriter builds the writer used in production. Messages are hashed
// by key, which is the booking reference.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(source Source, writer Writer, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		writer:    writer,
		logger:    logger,
		observer:  cfg.Observer,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx is done. Delivery is at-least-once: a batch that
// fails to write stays unpublished and is retried on the next tick.
func (p *Publisher) Run(ctx context.Context) {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("outbox writer close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishOnce(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("outbox publish failed", "err", err)
			} else if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

// PublishOnce drains a single batch.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.source.ProcessUnpublished(ctx, p.batchSize, p.write)
	if p.observer != nil {
		p.observer.OutboxPublished(n, err)
	}
	return n, err
}

func (p *Publisher) write(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msgCtx := otelx.ContextWithTraceContext(ctx, e.Traceparent, e.Tracestate)
		meta := kafkax.EventMeta{EventID: e.EventID, EventType: e.EventType, Tenant: e.Tenant}
		msgs = append(msgs, kafka.Message{
			Topic:   e.EventType,
			Key:     []byte(e.AggregateID),
			Value:   e.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}
