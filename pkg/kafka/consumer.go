package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/internal/tracing"
)

// MessageHandler processes incoming Kafka messages
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// Reader is the subset of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer handles Kafka message consumption
type Consumer struct {
	reader     Reader
	logger     ectologger.Logger
	handler    MessageHandler
	retryDelay time.Duration
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	return NewConsumerWithReader(reader, logger, handler)
}

// NewConsumerWithReader builds a consumer around an existing reader.
func NewConsumerWithReader(reader Reader, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:     reader,
		logger:     logger,
		handler:    handler,
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is cancelled. A message whose handler fails is
// redelivered rather than committed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.WithContext(ctx).Info("Kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return nil
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		for {
			if err := c.process(ctx, msg); err == nil {
				break
			}
			if !c.sleep(ctx) {
				return nil
			}
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	incoming := fromKafkaMessage(msg)

	ctx = tracing.WithTraceParent(ctx, incoming.TraceParent())
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.process")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      msg.Topic,
		"partition":  msg.Partition,
		"offset":     msg.Offset,
		"event_type": incoming.EventType(),
	})

	if err := c.handler(ctx, incoming); err != nil {
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to process message (not committing)")
		return err
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
		return err
	}
	return nil
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
