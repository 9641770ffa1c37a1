package kafka

import (
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType   = "event_type"
	HeaderOwner       = "owner"
	HeaderSubjectKind = "subject_kind"
	HeaderTraceParent = "traceparent"
)

// OutgoingMessage is one record handed to the producer.
type OutgoingMessage struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// EventType returns the event_type header, or "" when absent.
func (m *IncomingMessage) EventType() string {
	return m.Headers[HeaderEventType]
}

func (m *IncomingMessage) Owner() string {
	return m.Headers[HeaderOwner]
}

func (m *IncomingMessage) TraceParent() string {
	return m.Headers[HeaderTraceParent]
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for _, key := range sortedKeys(headers) {
		out = append(out, kafka.Header{Key: key, Value: []byte(headers[key])})
	}
	return out
}

func fromKafkaMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
