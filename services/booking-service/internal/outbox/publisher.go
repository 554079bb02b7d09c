package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/bookingengine/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookingengine/libs/otel"
)

// Record is one unpublished outbox_events row.
type Record struct {
	ID          int64
	EventID     string
	EventType   string
	AggregateID string
	OwnerID     string
	Payload     []byte
	Traceparent string
	Tracestate  string
	CreatedAt   time.Time
}

// RelayStore hands out a locked batch of unpublished records; they are marked
// published only when fn returns nil.
type RelayStore interface {
	RelayBatch(ctx context.Context, limit int, fn func([]Record) error) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays committed events to Kafka, topic = event type.
type Publisher struct {
	store     RelayStore
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	writer    MessageWriter
}

func NewPublisher(store RelayStore, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		store:     store,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// WithWriter replaces the Kafka writer, mainly for tests.
func (p *Publisher) WithWriter(w MessageWriter) *Publisher {
	p.writer = w
	return p
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		if len(p.brokers) == 0 {
			p.logger.Warn("outbox relay disabled (no kafka brokers configured)")
			return
		}
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	defer p.writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox relay failed", "err", err)
			}
		}
	}
}

func (p *Publisher) PublishBatch(ctx context.Context) error {
	return p.store.RelayBatch(ctx, p.batchSize, func(records []Record) error {
		if len(records) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
			meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, OwnerID: r.OwnerID}
			msgs = append(msgs, kafka.Message{
				Topic:   r.EventType,
				Key:     []byte(r.AggregateID),
				Value:   r.Payload,
				Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
			})
		}
		return p.writer.WriteMessages(ctx, msgs...)
	})
}
