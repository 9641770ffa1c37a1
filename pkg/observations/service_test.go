package observations_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/app/apptest"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
)

const owner = "u1"

func TestAppend_ReducesIntoSnapshot(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)
	e := env.Entity(t, owner, "company", "Acme")

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	for _, obs := range []struct {
		value string
		at    time.Time
	}{{`"old"`, first}, {`"new"`, second}} {
		_, err := env.Appender.Append(ctx, owner, models.AppendRequest{
			SubjectID:   e.ID,
			SubjectKind: models.SubjectKindEntity,
			FieldName:   "motto",
			Value:       json.RawMessage(obs.value),
			SourceID:    src.ID,
			ObservedAt:  &obs.at,
		})
		require.NoError(t, err)
	}

	snap, err := env.Snapshots.Reduce(ctx, owner, models.SubjectKindEntity, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", snap.Fields["motto"])
	assert.Equal(t, 2, snap.ObservationCount)
	assert.Equal(t, []string{src.ID}, snap.Provenance["motto"].SourceIDs)
}

func TestApplyCorrection_BeatsLaterObservations(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)
	e := env.Entity(t, owner, "company", "Acme")

	_, snap, err := env.Appender.ApplyCorrection(ctx, owner, models.CorrectionRequest{
		SubjectID:   e.ID,
		SubjectKind: models.SubjectKindEntity,
		FieldName:   "hq",
		Value:       json.RawMessage(`"Berlin"`),
		SourceID:    src.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Berlin", snap.Fields["hq"])

	env.Observe(t, owner, models.SubjectKindEntity, e.ID, "hq", `"Paris"`, src.ID)

	snap, err = env.Snapshots.Reduce(ctx, owner, models.SubjectKindEntity, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Berlin", snap.Fields["hq"])
	assert.True(t, snap.Provenance["hq"].Corrected)
}

func TestAppend_Rejections(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)
	e := env.Entity(t, owner, "company", "Acme")

	_, err := env.Schemas.Upsert(ctx, owner, models.SubjectKindEntity, "company", models.UpsertSchemaRequest{
		Fields: map[string]models.FieldDefinition{
			"employees": {Type: models.FieldTypeInteger, Reducer: models.ReducerSum},
		},
	})
	require.NoError(t, err)
	env.Events.Events = nil

	tests := []struct {
		name string
		req  models.AppendRequest
		code apperror.Code
	}{
		{
			name: "wrong type",
			req:  models.AppendRequest{SubjectID: e.ID, SubjectKind: models.SubjectKindEntity, FieldName: "employees", Value: json.RawMessage(`"many"`), SourceID: src.ID},
			code: apperror.CodeSchemaViolation,
		},
		{
			name: "undeclared field",
			req:  models.AppendRequest{SubjectID: e.ID, SubjectKind: models.SubjectKindEntity, FieldName: "color", Value: json.RawMessage(`"red"`), SourceID: src.ID},
			code: apperror.CodeSchemaViolation,
		},
		{
			name: "unknown source",
			req:  models.AppendRequest{SubjectID: e.ID, SubjectKind: models.SubjectKindEntity, FieldName: "employees", Value: json.RawMessage(`5`), SourceID: "nope"},
			code: apperror.CodeNotFound,
		},
		{
			name: "source of another owner",
			req:  models.AppendRequest{SubjectID: e.ID, SubjectKind: models.SubjectKindEntity, FieldName: "employees", Value: json.RawMessage(`5`), SourceID: env.Source(t, "u2").ID},
			code: apperror.CodeNotFound,
		},
		{
			name: "unknown subject",
			req:  models.AppendRequest{SubjectID: "nope", SubjectKind: models.SubjectKindEntity, FieldName: "employees", Value: json.RawMessage(`5`), SourceID: src.ID},
			code: apperror.CodeNotFound,
		},
		{
			name: "missing value",
			req:  models.AppendRequest{SubjectID: e.ID, SubjectKind: models.SubjectKindEntity, FieldName: "employees", SourceID: src.ID},
			code: apperror.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Appender.Append(ctx, owner, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err), err.Error())
		})
	}

	assert.Empty(t, env.Events.Types())
}

func TestAppend_SumAcrossSources(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	e := env.Entity(t, owner, "company", "Acme")

	_, err := env.Schemas.Upsert(ctx, owner, models.SubjectKindEntity, "company", models.UpsertSchemaRequest{
		Fields: map[string]models.FieldDefinition{
			"donations": {Type: models.FieldTypeNumber, Reducer: models.ReducerSum},
		},
	})
	require.NoError(t, err)

	env.Observe(t, owner, models.SubjectKindEntity, e.ID, "donations", `10`, env.Source(t, owner).ID)
	env.Observe(t, owner, models.SubjectKindEntity, e.ID, "donations", `2.5`, env.Source(t, owner).ID)

	snap, err := env.Snapshots.Reduce(ctx, owner, models.SubjectKindEntity, e.ID)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12.5"), snap.Fields["donations"])
	assert.Len(t, snap.Provenance["donations"].SourceIDs, 2)

	types := env.Events.Types()
	assert.Equal(t, events.EventTypeObservationAppended, types[len(types)-1])
}

func TestAppend_Relationship(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)

	jane := env.Entity(t, owner, "person", "Jane")
	acme := env.Entity(t, owner, "company", "Acme")
	rel := env.Relate(t, owner, jane.ID, acme.ID, models.RelationshipWorksAt)

	env.Observe(t, owner, models.SubjectKindRelationship, rel.ID, "role", `"engineer"`, src.ID)

	snap, err := env.Snapshots.Reduce(ctx, owner, models.SubjectKindRelationship, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RelationshipWorksAt), snap.Type)
	assert.Equal(t, "engineer", snap.Fields["role"])
}
