package resolution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestIdentityKey_Normalizes(t *testing.T) {
	a, err := IdentityKey("u1", "company", "  ＡＣＭＥ   Corp ", nil, nil)
	require.NoError(t, err)
	b, err := IdentityKey("u1", "Company", "acme corp", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "entity|company|u1|acme corp", a)
	assert.Equal(t, a, b)
	assert.Equal(t, EntityID(a), EntityID(b))

	other, err := IdentityKey("u2", "company", "acme corp", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, EntityID(a), EntityID(other))
}

func TestIdentityKey_IdentityFields(t *testing.T) {
	sch := models.DefaultSchema(models.SubjectKindEntity, "person")
	sch.Fields = database.NewJSONB(map[string]models.FieldDefinition{
		"email":  {Type: models.FieldTypeString, Reducer: models.ReducerLatest, Normalizer: "nemail"},
		"tax_id": {Type: models.FieldTypeString, Reducer: models.ReducerLatest, Normalizer: "digits_only"},
	})
	sch.IdentityFields = database.NewJSONB([]string{"tax_id", "email"})

	candidates := []models.CandidateObservation{
		{FieldName: "tax_id", Value: json.RawMessage(`"12-345"`), SourceID: "s"},
		{FieldName: "email", Value: json.RawMessage(`" Jane@Example.com "`), SourceID: "s"},
		{FieldName: "email", Value: json.RawMessage(`"other@example.com"`), SourceID: "s"},
	}

	key, err := IdentityKey("u1", "person", "Jane Doe", sch, candidates)
	require.NoError(t, err)
	assert.Equal(t, "entity|person|u1|jane doe|email=jane@example.com|tax_id=12345", key)

	withoutFields, err := IdentityKey("u1", "person", "Jane Doe", sch, nil)
	require.NoError(t, err)
	assert.Equal(t, "entity|person|u1|jane doe", withoutFields)
}

func TestIdentityKey_RejectsBlankName(t *testing.T) {
	_, err := IdentityKey("u1", "company", "   ", nil, nil)
	assert.Error(t, err)
}

func TestRelationshipID_Deterministic(t *testing.T) {
	a := RelationshipID("u1", "e1", "e2", models.RelationshipPartOf)
	assert.Equal(t, a, RelationshipID("u1", "e1", "e2", models.RelationshipPartOf))
	assert.NotEqual(t, a, RelationshipID("u1", "e2", "e1", models.RelationshipPartOf))
	assert.NotEqual(t, a, RelationshipID("u1", "e1", "e2", models.RelationshipOwns))
}
