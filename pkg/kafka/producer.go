// Package kafka wraps segmentio/kafka-go for fern's change-event topic.
package kafka

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

// Topic returns the topic every message is written to.
func (p *Producer) Topic() string {
	return p.topic
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish writes messages in one batch. Keys are subject ids so that every
// event for a subject lands on the same partition in order.
func (p *Producer) Publish(ctx context.Context, messages ...OutgoingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	if len(messages) == 0 {
		return nil
	}

	traceParent := tracing.GetTraceParent(ctx)
	batch := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		headers := m.Headers
		if traceParent != "" {
			if headers == nil {
				headers = map[string]string{}
			}
			if _, ok := headers[HeaderTraceParent]; !ok {
				headers[HeaderTraceParent] = traceParent
			}
		}
		batch = append(batch, kafka.Message{
			Key:     []byte(m.Key),
			Value:   m.Value,
			Headers: toKafkaHeaders(headers),
		})
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, batch...)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordKafkaPublish(p.topic, status, time.Since(start).Seconds())

	if err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic": p.topic,
			"count": len(batch),
		}).Error("Failed to publish messages")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": p.topic,
		"count": len(batch),
	}).Debug("Published messages")

	return nil
}
