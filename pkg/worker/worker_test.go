package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeReducer struct {
	mu          sync.Mutex
	reduced     []string
	invalidated []string
	missing     map[string]bool
}

func (f *fakeReducer) Reduce(_ context.Context, owner string, kind models.SubjectKind, id string) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[id] {
		return nil, apperror.NotFound(string(kind), id)
	}
	f.reduced = append(f.reduced, owner+"/"+id)
	return &models.Snapshot{}, nil
}

func (f *fakeReducer) Invalidate(_ context.Context, owner string, _ models.SubjectKind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, owner+"/"+id)
}

func message(t *testing.T, ev events.Event) *kafka.IncomingMessage {
	t.Helper()
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return &kafka.IncomingMessage{
		Key:     ev.SubjectID,
		Value:   value,
		Headers: map[string]string{kafka.HeaderEventType: string(ev.Type)},
	}
}

func TestWorker_Observation(t *testing.T) {
	r := &fakeReducer{}
	w := New(r, nil, 2, testutil.Logger())

	obs := &models.Observation{ID: "o1", Owner: "u1", SubjectKind: models.SubjectKindEntity, SubjectID: "e1", FieldName: "name"}
	require.NoError(t, w.Handle(context.Background(), message(t, events.ObservationAppended(obs))))

	assert.Equal(t, []string{"u1/e1"}, r.invalidated)
	assert.Equal(t, []string{"u1/e1"}, r.reduced)
}

func TestWorker_Merge(t *testing.T) {
	r := &fakeReducer{}
	w := New(r, nil, 2, testutil.Logger())

	ev := events.EntityMerged("u1", &models.MergeResult{DuplicateID: "dup", TargetID: "tgt"}, "")
	require.NoError(t, w.Handle(context.Background(), message(t, ev)))

	assert.Equal(t, []string{"u1/dup", "u1/tgt"}, r.invalidated)
	assert.Equal(t, []string{"u1/tgt"}, r.reduced)
}

func TestWorker_MissingSubjectIsSkipped(t *testing.T) {
	r := &fakeReducer{missing: map[string]bool{"gone": true}}
	w := New(r, nil, 2, testutil.Logger())

	ev := events.SubjectDeleted("u1", models.SubjectKindRelationship, "gone", "cleanup", "")
	require.NoError(t, w.Handle(context.Background(), message(t, ev)))
	assert.Equal(t, []string{"u1/gone"}, r.invalidated)
	assert.Empty(t, r.reduced)
}

func TestWorker_UndecodableMessageIsSkipped(t *testing.T) {
	r := &fakeReducer{}
	w := New(r, nil, 2, testutil.Logger())

	require.NoError(t, w.Handle(context.Background(), &kafka.IncomingMessage{Value: []byte("{not json")}))
	assert.Empty(t, r.reduced)
}

func TestWorker_Warm(t *testing.T) {
	conn := testutil.DB(t)
	ctx := context.Background()
	entities := entity.NewRepository(conn, testutil.Logger())

	a := testutil.Entity(t, conn, "u1", "company", "Acme")
	b := testutil.Entity(t, conn, "u1", "company", "Globex")
	c := testutil.Entity(t, conn, "u2", "person", "Jane")
	merged := testutil.Entity(t, conn, "u1", "company", "Acme Inc")
	ok, err := entities.MarkMerged(ctx, "u1", merged.ID, a.ID, merged.Version)
	require.NoError(t, err)
	require.True(t, ok)

	r := &fakeReducer{}
	w := New(r, entities, 2, testutil.Logger())

	count, err := w.Warm(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	want := []string{"u1/" + a.ID, "u1/" + b.ID}
	sort.Strings(want)
	got := append([]string(nil), r.reduced...)
	sort.Strings(got)
	assert.Equal(t, want, got)

	r.reduced = nil
	count, err = w.Warm(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Contains(t, r.reduced, "u2/"+c.ID)
}
