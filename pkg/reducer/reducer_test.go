package reducer

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return base.Add(time.Duration(hour) * time.Hour)
}

func obs(id, field, value, source string, hour int, correction bool) models.Observation {
	return models.Observation{
		ID:           id,
		SubjectID:    "ent-1",
		SubjectKind:  models.SubjectKindEntity,
		FieldName:    field,
		Value:        database.NewJSONB(json.RawMessage(value)),
		SourceID:     source,
		IsCorrection: correction,
		CreatedAt:    at(hour),
	}
}

func companySchema() *models.Schema {
	return &models.Schema{
		SubjectKind: models.SubjectKindEntity,
		TypeName:    "company",
		Version:     3,
		Fields: database.NewJSONB(map[string]models.FieldDefinition{
			"name":    {Type: models.FieldTypeString, Reducer: models.ReducerLatest},
			"revenue": {Type: models.FieldTypeNumber, Reducer: models.ReducerSum},
			"tags":    {Type: models.FieldTypeString, Reducer: models.ReducerSet},
			"events":  {Type: models.FieldTypeAny, Reducer: models.ReducerAppend},
		}),
	}
}

func companyObservations() []models.Observation {
	return []models.Observation{
		obs("obs-01", "name", `"Acme"`, "src-1", 1, false),
		obs("obs-02", "name", `"Acme Corp"`, "src-2", 2, false),
		obs("obs-03", "name", `"Acme Corporation"`, "src-3", 0, true),
		obs("obs-04", "revenue", `100`, "src-1", 1, false),
		obs("obs-05", "revenue", `250.5`, "src-2", 2, false),
		obs("obs-06", "tags", `"saas"`, "src-1", 1, false),
		obs("obs-07", "tags", `"b2b"`, "src-2", 2, false),
		obs("obs-08", "tags", `{"$tombstone":"saas"}`, "src-3", 3, true),
		obs("obs-09", "tags", `"saas"`, "src-1", 4, false),
		obs("obs-10", "events", `"founded"`, "src-1", 1, false),
		obs("obs-11", "events", `"ipo"`, "src-2", 2, false),
		obs("obs-12", "nickname", `"ac"`, "src-1", 1, false),
	}
}

func TestReduce_Golden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden.json"))

	t.Run("company_snapshot", func(t *testing.T) {
		snapshot := Reduce(companySchema(), Subject{ID: "ent-1", Kind: models.SubjectKindEntity}, companyObservations())
		out, err := snapshot.Canonical()
		require.NoError(t, err)
		g.Assert(t, "company_snapshot", out)
	})

	t.Run("relationship_snapshot", func(t *testing.T) {
		observations := []models.Observation{
			obs("obs-1", "title", `"Engineer"`, "src-1", 1, false),
			obs("obs-2", "title", `"Staff Engineer"`, "src-2", 2, false),
			obs("obs-3", "since", `"2020"`, "src-1", 1, false),
		}
		s := models.DefaultSchema(models.SubjectKindRelationship, "works_at")
		snapshot := Reduce(s, Subject{ID: "rel-1", Kind: models.SubjectKindRelationship}, observations)
		out, err := snapshot.Canonical()
		require.NoError(t, err)
		g.Assert(t, "relationship_snapshot", out)
	})
}

func TestReduce_IsDeterministic(t *testing.T) {
	subject := Subject{ID: "ent-1", Kind: models.SubjectKindEntity}
	want, err := Reduce(companySchema(), subject, companyObservations()).Canonical()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := companyObservations()
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := Reduce(companySchema(), subject, shuffled).Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestReduce_Latest(t *testing.T) {
	s := companySchema()
	subject := Subject{ID: "ent-1", Kind: models.SubjectKindEntity}

	tests := []struct {
		name         string
		observations []models.Observation
		want         any
		corrected    bool
	}{
		{
			name: "most recent raw wins",
			observations: []models.Observation{
				obs("a", "name", `"Acme"`, "src-1", 1, false),
				obs("b", "name", `"Acme Corp"`, "src-2", 2, false),
			},
			want: "Acme Corp",
		},
		{
			name: "older correction outranks newer raw",
			observations: []models.Observation{
				obs("a", "name", `"Acme"`, "src-1", 1, false),
				obs("b", "name", `"Acme Corp"`, "src-2", 2, false),
				obs("c", "name", `"Acme Corporation"`, "src-3", 0, true),
			},
			want:      "Acme Corporation",
			corrected: true,
		},
		{
			name: "latest of several corrections",
			observations: []models.Observation{
				obs("a", "name", `"One"`, "src-1", 1, true),
				obs("b", "name", `"Two"`, "src-2", 2, true),
				obs("c", "name", `"Raw"`, "src-3", 3, false),
			},
			want:      "Two",
			corrected: true,
		},
		{
			name: "equal timestamps break on id",
			observations: []models.Observation{
				obs("b", "name", `"B"`, "src-1", 1, false),
				obs("a", "name", `"A"`, "src-2", 1, false),
			},
			want: "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := Reduce(s, subject, tt.observations)
			assert.Equal(t, tt.want, snapshot.Fields["name"])
			assert.Equal(t, tt.corrected, snapshot.Provenance["name"].Corrected)
		})
	}
}

func TestReduce_Sum(t *testing.T) {
	s := companySchema()
	subject := Subject{ID: "ent-1", Kind: models.SubjectKindEntity}

	tests := []struct {
		name         string
		observations []models.Observation
		want         json.Number
	}{
		{
			name: "integers stay exact",
			observations: []models.Observation{
				obs("a", "revenue", `9007199254740993`, "src-1", 1, false),
				obs("b", "revenue", `2`, "src-1", 2, false),
			},
			want: "9007199254740995",
		},
		{
			name: "floats",
			observations: []models.Observation{
				obs("a", "revenue", `0.5`, "src-1", 1, false),
				obs("b", "revenue", `1.25`, "src-1", 2, false),
			},
			want: "1.75",
		},
		{
			name: "correction overrides the total",
			observations: []models.Observation{
				obs("a", "revenue", `10`, "src-1", 1, false),
				obs("b", "revenue", `20`, "src-1", 2, false),
				obs("c", "revenue", `5`, "src-2", 0, true),
				obs("d", "revenue", `7`, "src-2", 3, false),
			},
			want: "5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := Reduce(s, subject, tt.observations)
			assert.Equal(t, tt.want, snapshot.Fields["revenue"])
		})
	}
}

func TestReduce_Set(t *testing.T) {
	s := companySchema()
	subject := Subject{ID: "ent-1", Kind: models.SubjectKindEntity}

	snapshot := Reduce(s, subject, []models.Observation{
		obs("a", "tags", `"x"`, "src-1", 1, false),
		obs("b", "tags", `"y"`, "src-1", 2, false),
		obs("c", "tags", `"x"`, "src-2", 3, false),
		obs("d", "tags", `{"$tombstone":"y"}`, "src-3", 4, true),
		obs("e", "tags", `"z"`, "src-3", 5, true),
	})

	assert.Equal(t, []any{"x", "z"}, snapshot.Fields["tags"])
	assert.True(t, snapshot.Provenance["tags"].Corrected)
	assert.Equal(t, []string{"a", "c", "d", "e"}, snapshot.Provenance["tags"].ObservationIDs)
}

func TestReduce_AppendIncludesCorrections(t *testing.T) {
	s := companySchema()
	subject := Subject{ID: "ent-1", Kind: models.SubjectKindEntity}

	snapshot := Reduce(s, subject, []models.Observation{
		obs("b", "events", `"second"`, "src-1", 2, false),
		obs("a", "events", `"first"`, "src-1", 1, false),
		obs("c", "events", `"fixup"`, "src-2", 1, true),
	})

	entries, ok := snapshot.Fields["events"].([]models.AppendEntry)
	require.True(t, ok)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Value)
	assert.Equal(t, "fixup", entries[1].Value)
	assert.True(t, entries[1].IsCorrection)
	assert.Equal(t, "second", entries[2].Value)
}

func TestReduce_StrictSchemaDropsUndeclaredFields(t *testing.T) {
	snapshot := Reduce(companySchema(), Subject{ID: "ent-1", Kind: models.SubjectKindEntity}, companyObservations())
	_, ok := snapshot.Fields["nickname"]
	assert.False(t, ok)
	assert.Equal(t, 12, snapshot.ObservationCount)
}
