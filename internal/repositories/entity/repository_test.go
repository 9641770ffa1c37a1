package entity_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newEntity(owner, name string) *models.Entity {
	return &models.Entity{
		ID:            uuid.NewString(),
		Owner:         owner,
		EntityType:    "company",
		CanonicalName: name,
		IdentityKey:   name,
	}
}

func TestRepository_CreateIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := entity.NewRepository(db, testutil.Logger())
	ctx := testutil.Context("owner-a")

	e := newEntity("owner-a", "Acme")
	created, err := repo.Create(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	again := *e
	created, err = repo.Create(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.Get(ctx, "owner-a", e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.CanonicalName)
	assert.Equal(t, models.EntityStateActive, got.State())
	assert.Equal(t, 1, got.Version)
}

func TestRepository_GetIsOwnerScoped(t *testing.T) {
	db := testutil.DB(t)
	repo := entity.NewRepository(db, testutil.Logger())
	ctx := testutil.Context("owner-a")

	e := newEntity("owner-a", "Acme")
	_, err := repo.Create(ctx, e)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "owner-b", e.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestRepository_MarkMergedAndResolve(t *testing.T) {
	db := testutil.DB(t)
	repo := entity.NewRepository(db, testutil.Logger())
	ctx := testutil.Context("owner-a")

	a, b, c := newEntity("owner-a", "A"), newEntity("owner-a", "B"), newEntity("owner-a", "C")
	for _, e := range []*models.Entity{a, b, c} {
		_, err := repo.Create(ctx, e)
		require.NoError(t, err)
	}

	ok, err := repo.MarkMerged(ctx, "owner-a", a.ID, b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.MarkMerged(ctx, "owner-a", b.ID, c.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	terminal, err := repo.Resolve(ctx, "owner-a", a.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, terminal.ID)

	t.Run("stale version loses the CAS", func(t *testing.T) {
		ok, err := repo.MarkMerged(ctx, "owner-a", c.ID, a.ID, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("already merged rows are not re-merged", func(t *testing.T) {
		got, err := repo.Get(ctx, "owner-a", a.ID)
		require.NoError(t, err)
		ok, err := repo.MarkMerged(ctx, "owner-a", a.ID, c.ID, got.Version)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRepository_SetDeleted(t *testing.T) {
	db := testutil.DB(t)
	repo := entity.NewRepository(db, testutil.Logger())
	ctx := testutil.Context("owner-a")

	e := newEntity("owner-a", "Acme")
	_, err := repo.Create(ctx, e)
	require.NoError(t, err)

	reason := "duplicate import"
	now := e.CreatedAt
	require.NoError(t, repo.SetDeleted(ctx, "owner-a", e.ID, &now, &reason))

	got, err := repo.Get(ctx, "owner-a", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityStateDeleted, got.State())
	require.NotNil(t, got.DeletedReason)
	assert.Equal(t, reason, *got.DeletedReason)

	require.NoError(t, repo.SetDeleted(ctx, "owner-a", e.ID, nil, nil))
	got, err = repo.Get(ctx, "owner-a", e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())

	err = repo.SetDeleted(ctx, "owner-a", uuid.NewString(), nil, nil)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}
