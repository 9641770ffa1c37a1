package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type capturePublisher struct {
	messages []kafka.OutgoingMessage
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, messages ...kafka.OutgoingMessage) error {
	p.messages = append(p.messages, messages...)
	return p.err
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, ...Event) error { return errors.New("broker down") }

func TestKafkaEmitter_PublishesWithHeaders(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewKafkaEmitter(pub, testutil.Logger())

	ev := EntityCreated(&models.Entity{ID: "e1", Owner: "u1", EntityType: "company", CanonicalName: "Acme"})
	require.NoError(t, emitter.Emit(context.Background(), ev))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "e1", msg.Key)
	assert.Equal(t, "entity.created", msg.Headers[kafka.HeaderEventType])
	assert.Equal(t, "u1", msg.Headers[kafka.HeaderOwner])
	assert.Equal(t, "entity", msg.Headers[kafka.HeaderSubjectKind])

	parsed, err := Parse(&kafka.IncomingMessage{Value: msg.Value})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, parsed.ID)

	var payload EntityPayload
	require.NoError(t, parsed.Decode(&payload))
	assert.Equal(t, "Acme", payload.CanonicalName)
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	rec := &Recorder{}
	multi := Multi{failingEmitter{}, nil, rec}

	err := multi.Emit(context.Background(), SubjectDeleted("u1", models.SubjectKindEntity, "e1", "dup", "alice"))
	require.Error(t, err)
	assert.Equal(t, []EventType{EventTypeSubjectDeleted}, rec.Types())
}

func TestNotify_SwallowsErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		Notify(context.Background(), failingEmitter{}, testutil.Logger(), SubjectRestored("u1", models.SubjectKindRelationship, "r1", "oops", ""))
		Notify(context.Background(), nil, testutil.Logger())
	})
}

func TestNew_TimeOrderedIDs(t *testing.T) {
	a := New(EventTypeEntityCreated, "u1", models.SubjectKindEntity, "e1", nil)
	b := New(EventTypeEntityCreated, "u1", models.SubjectKindEntity, "e1", nil)
	assert.Less(t, a.ID, b.ID)
	assert.Empty(t, a.Payload)
}
