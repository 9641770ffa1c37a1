// Package events publishes post-commit change notifications.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// Emitter delivers events after the writing transaction has committed.
type Emitter interface {
	Emit(ctx context.Context, events ...Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Emit(context.Context, ...Event) error { return nil }

// Multi fans events out to every emitter. One emitter failing does not stop the others.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, events ...Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify emits events and logs a failure instead of returning it. Writes have
// already committed by the time events go out, so delivery never fails them.
func Notify(ctx context.Context, emitter Emitter, logger ectologger.Logger, events ...Event) {
	if emitter == nil || len(events) == 0 {
		return
	}
	if err := emitter.Emit(ctx, events...); err != nil {
		types := make([]string, 0, len(events))
		for _, ev := range events {
			types = append(types, string(ev.Type))
		}
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_types": types,
		}).Error("Failed to emit events")
	}
}

// Publisher is the producer surface the Kafka emitter needs.
type Publisher interface {
	Publish(ctx context.Context, messages ...kafka.OutgoingMessage) error
}

// KafkaEmitter publishes events as JSON, keyed by subject id.
type KafkaEmitter struct {
	producer Publisher
	logger   ectologger.Logger
}

// NewKafkaEmitter creates a new event emitter
func NewKafkaEmitter(producer Publisher, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *KafkaEmitter) Emit(ctx context.Context, events ...Event) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.Emit")
	defer span.End()

	messages := make([]kafka.OutgoingMessage, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.OutgoingMessage{
			Key:   ev.SubjectID,
			Value: data,
			Headers: map[string]string{
				kafka.HeaderEventType:   string(ev.Type),
				kafka.HeaderOwner:       ev.Owner,
				kafka.HeaderSubjectKind: string(ev.SubjectKind),
			},
		})
	}

	err := e.producer.Publish(ctx, messages...)
	status := "success"
	if err != nil {
		status = "error"
		tracing.RecordError(span, err)
	}
	for _, ev := range events {
		metrics.EventsEmitted.WithLabelValues("kafka", string(ev.Type), status).Inc()
	}
	return err
}

// Parse decodes an event published by KafkaEmitter.
func Parse(msg *kafka.IncomingMessage) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, events...)
	return nil
}

// Types lists recorded event types in emission order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Type)
	}
	return out
}
