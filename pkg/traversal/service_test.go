package traversal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/app/apptest"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/traversal"
)

const owner = "u1"

// chain builds a -> b -> c -> d with manages edges and d -> a with related_to.
func chain(t *testing.T, env *apptest.Env) []*models.Entity {
	t.Helper()
	var nodes []*models.Entity
	for _, name := range []string{"a", "b", "c", "d"} {
		nodes = append(nodes, env.Entity(t, owner, "person", name))
	}
	for i := 0; i+1 < len(nodes); i++ {
		env.Relate(t, owner, nodes[i].ID, nodes[i+1].ID, models.RelationshipManages)
	}
	env.Relate(t, owner, nodes[3].ID, nodes[0].ID, models.RelationshipRelatedTo)
	return nodes
}

func TestNeighborhood_HopsAndCycles(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	n := chain(t, env)

	zero, err := env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{EntityID: n[0].ID, MaxHops: 0})
	require.NoError(t, err)
	require.Len(t, zero.Entities, 1)
	assert.Equal(t, n[0].ID, zero.SeedID)

	one, err := env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{EntityID: n[0].ID, MaxHops: 1})
	require.NoError(t, err)
	assert.Len(t, one.Entities, 3)
	assert.Equal(t, 1, one.Hops[n[1].ID])
	assert.Equal(t, 1, one.Hops[n[3].ID])
	assert.Len(t, one.Relationships, 2)

	all, err := env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{EntityID: n[0].ID, MaxHops: traversal.MaxHops})
	require.NoError(t, err)
	assert.Len(t, all.Entities, 4)
	assert.Len(t, all.Relationships, 4)
	assert.Equal(t, 2, all.Hops[n[2].ID])
}

func TestNeighborhood_Filters(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	n := chain(t, env)
	acme := env.Entity(t, owner, "company", "Acme")
	env.Relate(t, owner, n[0].ID, acme.ID, models.RelationshipWorksAt)

	byRel, err := env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{
		EntityID:          n[0].ID,
		MaxHops:           3,
		RelationshipTypes: []models.RelationshipType{models.RelationshipManages},
	})
	require.NoError(t, err)
	assert.Len(t, byRel.Entities, 4)
	assert.NotContains(t, byRel.Hops, acme.ID)

	byType, err := env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{
		EntityID:    n[0].ID,
		MaxHops:     2,
		EntityTypes: []string{"company"},
	})
	require.NoError(t, err)
	require.Len(t, byType.Entities, 2)
	assert.Equal(t, acme.ID, byType.Entities[1].ID)

	_, err = env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{EntityID: n[0].ID, MaxHops: traversal.MaxHops + 1})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	_, err = env.Traversal.Neighborhood(ctx, owner, models.NeighborhoodQuery{
		EntityID:          n[0].ID,
		RelationshipTypes: []models.RelationshipType{"likes"},
	})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))
}

func TestRelated_DirectionAndPaging(t *testing.T) {
	env := apptest.New(t)
	ctx := testutil.Context(owner)
	n := chain(t, env)

	both, err := env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[1].ID})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	out, err := env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[1].ID, Direction: models.DirectionOutbound})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, n[2].ID, out[0].TargetEntityID)

	page, err := env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[0].ID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	typed, err := env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[0].ID, RelationshipType: models.RelationshipRelatedTo})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, n[3].ID, typed[0].SourceEntityID)

	_, err = env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[0].ID, Direction: "sideways"})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	_, err = env.Traversal.Related(ctx, owner, models.RelatedQuery{EntityID: n[0].ID, Limit: traversal.MaxLimit + 1})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	_, err = env.Traversal.Related(ctx, "u2", models.RelatedQuery{EntityID: n[0].ID})
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}
