package resolution_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/app/apptest"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
)

const owner = "u1"

func merge(env *apptest.Env, duplicateID, targetID string) (*models.MergeResult, error) {
	return env.Resolution.Merge(testutil.Context(owner), owner, duplicateID, models.MergeRequest{TargetID: targetID, Reason: "duplicate"}, "tester")
}

func TestResolveOrCreate_IsIdempotent(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)

	first, err := env.Resolution.ResolveOrCreate(ctx, owner, models.ResolveRequest{EntityType: "company", CanonicalName: "Acme Corp"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := env.Resolution.ResolveOrCreate(ctx, owner, models.ResolveRequest{EntityType: "company", CanonicalName: "acme  CORP"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Entity.ID, second.Entity.ID)

	other, err := env.Resolution.ResolveOrCreate(testutil.Context("u2"), "u2", models.ResolveRequest{EntityType: "company", CanonicalName: "Acme Corp"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Entity.ID, other.Entity.ID)

	assert.Equal(t, []events.EventType{events.EventTypeEntityCreated, events.EventTypeEntityCreated}, env.Events.Types())
}

func TestResolveOrCreate_AppendsCandidateObservations(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)

	result, err := env.Resolution.ResolveOrCreate(ctx, owner, models.ResolveRequest{
		EntityType:    "company",
		CanonicalName: "Globex",
		Observations: []models.CandidateObservation{
			{FieldName: "industry", Value: json.RawMessage(`"energy"`), SourceID: src.ID},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Observations, 1)

	snap, err := env.Snapshots.Reduce(ctx, owner, models.SubjectKindEntity, result.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "energy", snap.Fields["industry"])
}

func TestResolveOrCreate_BadObservationReportsIndex(t *testing.T) {
	env := apptest.New(t)
	src := env.Source(t, owner)

	_, err := env.Resolution.ResolveOrCreate(testutil.Context(owner), owner, models.ResolveRequest{
		EntityType:    "company",
		CanonicalName: "Initech",
		Observations: []models.CandidateObservation{
			{FieldName: "industry", Value: json.RawMessage(`"software"`), SourceID: src.ID},
			{FieldName: "industry", Value: json.RawMessage(`"software"`), SourceID: "missing-source"},
		},
	})
	require.Error(t, err)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	index, ok := appErr.ItemIndex()
	require.True(t, ok)
	assert.Equal(t, 1, index)
	assert.Empty(t, env.Events.Types())
}

func TestMerge_MovesObservationsAndRedirects(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	src := env.Source(t, owner)

	dup := env.Entity(t, owner, "company", "Acme Inc")
	target := env.Entity(t, owner, "company", "Acme Incorporated")
	other := env.Entity(t, owner, "person", "Jane")
	env.Observe(t, owner, models.SubjectKindEntity, dup.ID, "industry", `"manufacturing"`, src.ID)
	env.Relate(t, owner, other.ID, dup.ID, models.RelationshipWorksAt)

	result, err := merge(env, dup.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ObservationsMoved)
	assert.Equal(t, int64(1), result.RelationshipsRepointed)

	resolved, err := env.Entities.Resolve(ctx, owner, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, resolved.ID)

	snap, err := env.Snapshots.Reduce(ctx, owner, models.SubjectKindEntity, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "manufacturing", snap.Fields["industry"])

	obs := env.Observe(t, owner, models.SubjectKindEntity, dup.ID, "employees", `120`, src.ID)
	assert.Equal(t, target.ID, obs.SubjectID)

	rels, err := env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: dup.ID, Direction: models.DirectionInbound})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, target.ID, rels[0].TargetEntityID)

	history, err := env.Lifecycle.History(ctx, owner, dup.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.LifecycleActionMerge, history[0].Action)
	assert.Equal(t, "tester", history[0].Actor)

	assert.Contains(t, env.Events.Types(), events.EventTypeEntityMerged)
}

func TestMerge_Rejections(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)

	a := env.Entity(t, owner, "company", "A")
	b := env.Entity(t, owner, "company", "B")
	gone := env.Entity(t, owner, "company", "Gone")

	_, err := merge(env, a.ID, a.ID)
	assert.Equal(t, apperror.CodeMergeCycle, apperror.CodeOf(err))

	_, err = merge(env, a.ID, b.ID)
	require.NoError(t, err)

	again, err := merge(env, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyMerged)

	_, err = merge(env, b.ID, a.ID)
	assert.Equal(t, apperror.CodeMergeCycle, apperror.CodeOf(err))

	_, err = env.Lifecycle.Delete(ctx, owner, models.LifecycleRequest{SubjectKind: models.SubjectKindEntity, SubjectID: gone.ID, Reason: "spam"})
	require.NoError(t, err)

	_, err = merge(env, b.ID, gone.ID)
	assert.Equal(t, apperror.CodeGraphIntegrityViolation, apperror.CodeOf(err))

	_, err = merge(env, gone.ID, b.ID)
	assert.Equal(t, apperror.CodeGraphIntegrityViolation, apperror.CodeOf(err))

	_, err = merge(env, "missing", b.ID)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestMerge_RejectsSelfLoopOnAcyclicType(t *testing.T) {
	env := apptest.New(t)

	team := env.Entity(t, owner, "team", "Platform")
	org := env.Entity(t, owner, "team", "Engineering")
	env.Relate(t, owner, team.ID, org.ID, models.RelationshipPartOf)

	_, err := merge(env, team.ID, org.ID)
	assert.Equal(t, apperror.CodeGraphIntegrityViolation, apperror.CodeOf(err))

	resolved, err := env.Entities.Get(testutil.Context(owner), owner, team.ID)
	require.NoError(t, err)
	assert.Nil(t, resolved.MergedInto)
}

func TestMerge_AllowsSelfLoopOnOtherTypes(t *testing.T) {
	env := apptest.New(t)

	a := env.Entity(t, owner, "company", "Acme")
	b := env.Entity(t, owner, "company", "Acme Holdings")
	env.Relate(t, owner, a.ID, b.ID, models.RelationshipRelatedTo)

	result, err := merge(env, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RelationshipsRepointed)
}
