package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeWriter struct {
	calls []statement
	err   error
}

func (w *fakeWriter) Write(_ context.Context, cypher string, params map[string]any) error {
	w.calls = append(w.calls, statement{cypher: cypher, params: params})
	return w.err
}

func newProjector(w Writer) *Projector {
	return NewProjector(w, zapadapter.NewZapEctoLogger(zap.NewNop(), nil))
}

func TestProjector_EntityAndRelationship(t *testing.T) {
	w := &fakeWriter{}
	p := newProjector(w)

	entity := &models.Entity{ID: "e1", Owner: "u1", EntityType: "company", CanonicalName: "Acme"}
	rel := &models.Relationship{ID: "r1", Owner: "u1", SourceEntityID: "e1", TargetEntityID: "e2", RelationshipType: models.RelationshipPartOf}

	require.NoError(t, p.Emit(context.Background(), events.EntityCreated(entity), events.RelationshipCreated(rel)))
	require.Len(t, w.calls, 2)

	assert.Equal(t, upsertEntityCypher, w.calls[0].cypher)
	assert.Equal(t, map[string]any{"id": "e1", "owner": "u1", "type": "company", "name": "Acme"}, w.calls[0].params)

	assert.Equal(t, upsertRelationshipCypher, w.calls[1].cypher)
	assert.Equal(t, "e2", w.calls[1].params["target_id"])
	assert.Equal(t, "part_of", w.calls[1].params["type"])
}

func TestProjector_Merge(t *testing.T) {
	w := &fakeWriter{}
	p := newProjector(w)

	ev := events.EntityMerged("u1", &models.MergeResult{DuplicateID: "d", TargetID: "t"}, "alice")
	require.NoError(t, p.Emit(context.Background(), ev))

	require.Len(t, w.calls, 3)
	assert.Equal(t, mergeOutgoingCypher, w.calls[0].cypher)
	assert.Equal(t, mergeIncomingCypher, w.calls[1].cypher)
	assert.Equal(t, markMergedCypher, w.calls[2].cypher)
	assert.Equal(t, "d", w.calls[2].params["duplicate_id"])
	assert.Equal(t, "t", w.calls[2].params["target_id"])
}

func TestProjector_Lifecycle(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{"delete entity", events.SubjectDeleted("u1", models.SubjectKindEntity, "e1", "dup", ""), deleteEntityCypher},
		{"restore entity", events.SubjectRestored("u1", models.SubjectKindEntity, "e1", "oops", ""), restoreEntityCypher},
		{"delete relationship", events.SubjectDeleted("u1", models.SubjectKindRelationship, "r1", "wrong", ""), deleteRelationshipCypher},
		{"restore relationship", events.SubjectRestored("u1", models.SubjectKindRelationship, "r1", "right", ""), restoreRelationshipCypher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			require.NoError(t, newProjector(w).Emit(context.Background(), tt.ev))
			require.Len(t, w.calls, 1)
			assert.Equal(t, tt.want, w.calls[0].cypher)
			assert.Equal(t, tt.ev.SubjectID, w.calls[0].params["id"])
		})
	}
}

func TestProjector_IgnoresObservations(t *testing.T) {
	w := &fakeWriter{}
	obs := &models.Observation{ID: "o1", Owner: "u1", SubjectKind: models.SubjectKindEntity, SubjectID: "e1", FieldName: "name"}

	require.NoError(t, newProjector(w).Emit(context.Background(), events.ObservationAppended(obs)))
	assert.Empty(t, w.calls)
}

func TestProjector_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("bolt unavailable")}
	p := newProjector(w)

	ev := events.EntityMerged("u1", &models.MergeResult{DuplicateID: "d", TargetID: "t"}, "")
	err := p.Emit(context.Background(), ev)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bolt unavailable")
	assert.Len(t, w.calls, 1, "remaining statements of a failed event are skipped")
}
