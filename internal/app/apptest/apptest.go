// Package apptest wires the full service graph over a migrated SQLite database
// for service and route tests.
package apptest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/blob"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/snapshot"
)

// Env is a wired service graph plus the recorder that sees every event.
type Env struct {
	*app.Services
	Events *events.Recorder
}

// New builds services over a fresh database with a filesystem blob store and
// an in-memory snapshot cache.
func New(t *testing.T) *Env {
	t.Helper()

	store, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	recorder := &events.Recorder{}
	services := app.NewServices(testutil.DB(t), testutil.Logger(), app.Options{
		Blob:    store,
		Cache:   snapshot.NewMemoryCache(1000),
		Emitter: recorder,
	})
	return &Env{Services: services, Events: recorder}
}

// Source stores a source row for owner.
func (e *Env) Source(t *testing.T, owner string) *models.Source {
	t.Helper()
	return testutil.Source(t, e.DB, owner)
}

// Entity resolves or creates an entity with no observations.
func (e *Env) Entity(t *testing.T, owner, entityType, name string) *models.Entity {
	t.Helper()
	result, err := e.Resolution.ResolveOrCreate(testutil.Context(owner), owner, models.ResolveRequest{
		EntityType:    entityType,
		CanonicalName: name,
	})
	require.NoError(t, err)
	return &result.Entity
}

// Relate creates a relationship between two stored entities through a batch.
func (e *Env) Relate(t *testing.T, owner, sourceID, targetID string, relType models.RelationshipType) *models.Relationship {
	t.Helper()
	ctx := testutil.Context(owner)
	result, err := e.Builder.BatchCreate(ctx, owner, models.BatchRequest{
		Relationships: []models.BatchRelationship{{Source: sourceID, Target: targetID, RelationshipType: relType}},
	})
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)

	rel, err := e.Relationships.Get(ctx, owner, result.Relationships[0].ID)
	require.NoError(t, err)
	return rel
}

// Observe appends a JSON value to a subject.
func (e *Env) Observe(t *testing.T, owner string, kind models.SubjectKind, subjectID, field, value, sourceID string) *models.Observation {
	t.Helper()
	obs, err := e.Appender.Append(testutil.Context(owner), owner, models.AppendRequest{
		SubjectID:   subjectID,
		SubjectKind: kind,
		FieldName:   field,
		Value:       json.RawMessage(value),
		SourceID:    sourceID,
	})
	require.NoError(t, err)
	return obs
}
