package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schemarepo "github.com/Ramsey-B/fern/internal/repositories/schema"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	db := testutil.DB(t)
	return schema.NewRegistry(schemarepo.NewRepository(db, testutil.Logger()), testutil.Logger())
}

func TestRegistry_GetFallsBack(t *testing.T) {
	registry := newRegistry(t)
	ctx := testutil.Context("owner-a")

	def, err := registry.Get(ctx, "owner-a", models.SubjectKindEntity, "company")
	require.NoError(t, err)
	assert.True(t, def.AllowUnknownFields)
	assert.Equal(t, 0, def.Version)

	_, err = registry.Upsert(ctx, schema.GlobalOwner, models.SubjectKindEntity, "company", models.UpsertSchemaRequest{
		Fields: map[string]models.FieldDefinition{"name": {Type: models.FieldTypeString, Reducer: models.ReducerLatest}},
	})
	require.NoError(t, err)

	global, err := registry.Get(ctx, "owner-a", models.SubjectKindEntity, "company")
	require.NoError(t, err)
	assert.Equal(t, schema.GlobalOwner, global.Owner)
	assert.False(t, global.AllowUnknownFields)

	_, err = registry.Upsert(ctx, "owner-a", models.SubjectKindEntity, "company", models.UpsertSchemaRequest{AllowUnknownFields: true})
	require.NoError(t, err)

	shadowed, err := registry.Get(ctx, "owner-a", models.SubjectKindEntity, "company")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", shadowed.Owner)

	other, err := registry.Get(ctx, "owner-b", models.SubjectKindEntity, "company")
	require.NoError(t, err)
	assert.Equal(t, schema.GlobalOwner, other.Owner)
}

func TestRegistry_UpsertBumpsVersion(t *testing.T) {
	registry := newRegistry(t)
	ctx := testutil.Context("owner-a")
	req := models.UpsertSchemaRequest{
		Fields: map[string]models.FieldDefinition{"score": {Type: models.FieldTypeInteger, Reducer: models.ReducerSum}},
	}

	first, err := registry.Upsert(ctx, "owner-a", models.SubjectKindEntity, "player", req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := registry.Upsert(ctx, "owner-a", models.SubjectKindEntity, "player", req)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.ID, second.ID)
}

func TestRegistry_UpsertRejectsBadDefinitions(t *testing.T) {
	registry := newRegistry(t)
	ctx := testutil.Context("owner-a")

	tests := []struct {
		name     string
		kind     models.SubjectKind
		typeName string
		req      models.UpsertSchemaRequest
		code     apperror.Code
	}{
		{
			name:     "sum on a string",
			kind:     models.SubjectKindEntity,
			typeName: "company",
			req:      models.UpsertSchemaRequest{Fields: map[string]models.FieldDefinition{"name": {Type: models.FieldTypeString, Reducer: models.ReducerSum}}},
			code:     apperror.CodeSchemaViolation,
		},
		{
			name:     "unknown reducer",
			kind:     models.SubjectKindEntity,
			typeName: "company",
			req:      models.UpsertSchemaRequest{Fields: map[string]models.FieldDefinition{"name": {Type: models.FieldTypeString, Reducer: "median"}}},
			code:     apperror.CodeInvalidArgument,
		},
		{
			name:     "undeclared identity field",
			kind:     models.SubjectKindEntity,
			typeName: "company",
			req:      models.UpsertSchemaRequest{IdentityFields: []string{"domain"}},
			code:     apperror.CodeSchemaViolation,
		},
		{
			name:     "unknown relationship type",
			kind:     models.SubjectKindRelationship,
			typeName: "likes",
			req:      models.UpsertSchemaRequest{},
			code:     apperror.CodeInvalidArgument,
		},
		{
			name:     "identity on a relationship",
			kind:     models.SubjectKindRelationship,
			typeName: "owns",
			req: models.UpsertSchemaRequest{
				Fields:         map[string]models.FieldDefinition{"since": {Type: models.FieldTypeDate, Reducer: models.ReducerLatest}},
				IdentityFields: []string{"since"},
			},
			code: apperror.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Upsert(ctx, "owner-a", tt.kind, tt.typeName, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
}

func TestRegistry_ApplyFile(t *testing.T) {
	registry := newRegistry(t)
	ctx := testutil.Context("owner-a")

	file, err := schema.LoadFile("testdata/schemas.yaml")
	require.NoError(t, err)
	require.Len(t, file.Schemas, 2)

	stored, err := registry.Apply(ctx, file)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	company, err := registry.Get(ctx, "owner-a", models.SubjectKindEntity, "company")
	require.NoError(t, err)
	assert.Equal(t, []string{"domain"}, company.IdentityFields.Data)
	assert.Equal(t, models.ReducerSum, company.Fields.Data["revenue"].Reducer)
	assert.Equal(t, "lowercase", company.Fields.Data["domain"].Normalizer)

	worksAt, err := registry.Get(ctx, "owner-a", models.SubjectKindRelationship, "works_at")
	require.NoError(t, err)
	assert.True(t, worksAt.AllowUnknownFields)
}
