package routes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/app/apptest"
	"github.com/Ramsey-B/fern/internal/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes"
)

const owner = "u1"

type server struct {
	t   *testing.T
	e   *echo.Echo
	env *apptest.Env
}

func newServer(t *testing.T) *server {
	env := apptest.New(t)
	e, _ := routes.New(env.Services, routes.Options{AppName: "fern-test", MetricsPath: "/metrics"})
	return &server{t: t, e: e, env: env}
}

func (s *server) do(method, path, ownerID string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if ownerID != "" {
		req.Header.Set(middleware.HeaderOwnerID, ownerID)
	}
	req.Header.Set(middleware.HeaderActorID, "tester")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *server) source() string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/sources", owner, map[string]any{
		"content":     []byte("acme annual report"),
		"mime_type":   "text/plain",
		"source_type": "report",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Source](s.t, rec).ID
}

func (s *server) resolve(entityType, name string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/v1/entities/resolve", owner, map[string]any{
		"entity_type":    entityType,
		"canonical_name": name,
	})
}

func TestMissingOwner(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api/v1/schemas/entity/company", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decode[middleware.ErrorResponse](t, rec)
	assert.NotEmpty(t, body.RequestID)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSources(t *testing.T) {
	s := newServer(t)
	id := s.source()

	rec := s.do(http.MethodGet, "/api/v1/sources/"+id, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StorageStatusUploaded, decode[models.Source](t, rec).StorageStatus)

	rec = s.do(http.MethodGet, "/api/v1/sources/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveIsIdempotent(t *testing.T) {
	s := newServer(t)

	first := s.resolve("company", "Acme Corp")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.resolve("company", "  ACME   corp ")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	assert.Equal(t,
		decode[models.ResolveResult](t, first).Entity.ID,
		decode[models.ResolveResult](t, second).Entity.ID)
}

func TestObservationSnapshotETag(t *testing.T) {
	s := newServer(t)
	sourceID := s.source()
	entityID := decode[models.ResolveResult](t, s.resolve("company", "Acme")).Entity.ID

	rec := s.do(http.MethodPost, "/api/v1/observations", owner, map[string]any{
		"subject_id":   entityID,
		"subject_kind": "entity",
		"field_name":   "industry",
		"value":        "manufacturing",
		"source_id":    sourceID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/snapshots/entity/"+entityID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[models.Snapshot](t, rec)
	assert.Equal(t, "manufacturing", snap.Fields["industry"])

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = s.do(http.MethodGet, "/api/v1/snapshots/entity/"+entityID, owner, nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/corrections", owner, map[string]any{
		"subject_id":   entityID,
		"subject_kind": "entity",
		"field_name":   "industry",
		"value":        "aerospace",
		"source_id":    sourceID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/snapshots/entity/"+entityID, owner, nil, "If-None-Match", etag)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aerospace", decode[models.Snapshot](t, rec).Fields["industry"])
}

func TestMergeRedirectsReads(t *testing.T) {
	s := newServer(t)
	dup := decode[models.ResolveResult](t, s.resolve("company", "Acme Inc")).Entity.ID
	target := decode[models.ResolveResult](t, s.resolve("company", "Acme Incorporated")).Entity.ID

	rec := s.do(http.MethodPost, "/api/v1/entities/"+dup+"/merge", owner, map[string]any{"target_id": target, "reason": "same company"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/entities/"+dup, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, target, decode[models.Entity](t, rec).ID)
	assert.Equal(t, "/api/v1/entities/"+target, rec.Header().Get("Content-Location"))

	rec = s.do(http.MethodPost, "/api/v1/entities/"+target+"/merge", owner, map[string]any{"target_id": target})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MERGE_CYCLE", decode[middleware.ErrorResponse](t, rec).Meta["code"])
}

func TestBatchCycleIsRejected(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/v1/graph/batch", owner, map[string]any{
		"entities": []map[string]any{
			{"ref": "a", "entity_type": "team", "canonical_name": "A"},
			{"ref": "b", "entity_type": "team", "canonical_name": "B"},
		},
		"relationships": []map[string]any{
			{"source": "ref:a", "target": "ref:b", "relationship_type": "part_of"},
			{"source": "ref:b", "target": "ref:a", "relationship_type": "part_of"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "GRAPH_INTEGRITY_VIOLATION", decode[middleware.ErrorResponse](t, rec).Meta["code"])

	rec = s.do(http.MethodGet, "/api/v1/integrity", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.IntegrityReport](t, rec)
	assert.Zero(t, report.RelationshipCount)
}

func TestBatchAndTraversal(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/v1/graph/batch", owner, map[string]any{
		"entities": []map[string]any{
			{"ref": "jane", "entity_type": "person", "canonical_name": "Jane Doe"},
			{"ref": "acme", "entity_type": "company", "canonical_name": "Acme"},
		},
		"relationships": []map[string]any{
			{"ref": "job", "source": "ref:jane", "target": "ref:acme", "relationship_type": "works_at"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[models.BatchResult](t, rec)
	require.Len(t, result.Entities, 2)
	jane := result.Entities[0].ID

	rec = s.do(http.MethodGet, "/api/v1/entities/"+jane+"/related?direction=outbound", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]models.Relationship](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/v1/entities/"+jane+"/neighborhood?max_hops=1", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n := decode[models.Neighborhood](t, rec)
	assert.Len(t, n.Entities, 2)
	assert.Equal(t, 1, n.Hops[result.Entities[1].ID])

	rec = s.do(http.MethodGet, "/api/v1/entities/"+jane+"/related?limit=abc", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAndRestore(t *testing.T) {
	s := newServer(t)
	id := decode[models.ResolveResult](t, s.resolve("company", "Initech")).Entity.ID

	rec := s.do(http.MethodDelete, "/api/v1/subjects/entity/"+id, owner, map[string]any{"reason": "test data"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[models.LifecycleResult](t, rec).Changed)

	rec = s.do(http.MethodGet, "/api/v1/entities/"+id, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/entities/"+id+"?include_deleted=true", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/subjects/entity/"+id+"/restore", owner, map[string]any{"reason": "real after all"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/entities/"+id+"/history", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]models.LifecycleEvent](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, models.LifecycleActionDelete, history[0].Action)
	assert.Equal(t, "tester", history[0].Actor)
	assert.Equal(t, models.LifecycleActionRestore, history[1].Action)

	rec = s.do(http.MethodDelete, "/api/v1/subjects/entity/"+id, owner, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchemas(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPut, "/api/v1/schemas/entity/company", owner, map[string]any{
		"fields": map[string]any{
			"revenue": map[string]any{"type": "number", "reducer": "latest"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/schemas/entity/company", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sch := decode[models.Schema](t, rec)
	assert.Equal(t, 1, sch.Version)
	assert.Contains(t, sch.Fields.Data, "revenue")
}
