package relationship

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "relationships"

var columns = []string{"id", "owner", "source_entity_id", "target_entity_id", "relationship_type", "metadata", "deleted_at", "deleted_reason", "created_at", "updated_at"}

// Repository handles relationship persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new relationship repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListFilter narrows ListByEndpoint.
type ListFilter struct {
	Direction        models.Direction
	RelationshipType models.RelationshipType
	IncludeDeleted   bool
	Limit            int
	Offset           int
}

// Create inserts rel unless its deterministic id already exists and reports
// whether this call created the row.
func (r *Repository) Create(ctx context.Context, rel *models.Relationship) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	rel.CreatedAt = now
	rel.UpdatedAt = now
	if rel.Metadata.Data == nil {
		rel.Metadata = database.NewJSONB(map[string]any{})
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(rel.ID, rel.Owner, rel.SourceEntityID, rel.TargetEntityID, rel.RelationshipType, rel.Metadata, rel.DeletedAt, rel.DeletedReason, rel.CreatedAt, rel.UpdatedAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":                rel.ID,
			"source_entity_id":  rel.SourceEntityID,
			"target_entity_id":  rel.TargetEntityID,
			"relationship_type": rel.RelationshipType,
		}).Error("Failed to create relationship")
		return false, apperror.StorageWriteFailed(err, "failed to create relationship")
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Get retrieves a relationship by id within owner.
func (r *Repository) Get(ctx context.Context, owner, id string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("owner", owner),
	)

	query, args := sb.Build()
	var rel models.Relationship
	if err := r.db.Querier(ctx).GetContext(ctx, &rel, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(string(models.SubjectKindRelationship), id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get relationship")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to get relationship")
	}
	return &rel, nil
}

// FindActive returns the non-deleted edge source → target of relType, if any.
// Merges can leave an edge whose id no longer matches its endpoints, so
// callers deduplicating edges look them up by endpoints rather than id.
func (r *Repository) FindActive(ctx context.Context, owner, sourceID, targetID string, relType models.RelationshipType) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.FindActive")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.Equal("source_entity_id", sourceID),
		sb.Equal("target_entity_id", targetID),
		sb.Equal("relationship_type", relType),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at", "id")
	sb.Limit(1)

	rels, err := r.list(ctx, sb)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}

// ListByEndpoint pages the relationships touching entityID, oldest first.
func (r *Repository) ListByEndpoint(ctx context.Context, owner, entityID string, filter ListFilter) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListByEndpoint")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("owner", owner))

	switch filter.Direction {
	case models.DirectionOutbound:
		sb.Where(sb.Equal("source_entity_id", entityID))
	case models.DirectionInbound:
		sb.Where(sb.Equal("target_entity_id", entityID))
	default:
		sb.Where(sb.Or(
			sb.Equal("source_entity_id", entityID),
			sb.Equal("target_entity_id", entityID),
		))
	}
	if filter.RelationshipType != "" {
		sb.Where(sb.Equal("relationship_type", filter.RelationshipType))
	}
	if !filter.IncludeDeleted {
		sb.Where(sb.IsNull("deleted_at"))
		// edges stay hidden while either endpoint is soft-deleted
		sb.Where(liveEndpoint("source_entity_id"), liveEndpoint("target_entity_id"))
	}

	sb.OrderBy("created_at", "id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	return r.list(ctx, sb)
}

// endpointChunk bounds the ids bound per query. Each id is bound twice, which
// keeps a chunk well under SQLite's default limit of 999 variables.
const endpointChunk = 400

// ListActiveByEndpoints returns non-deleted relationships with either endpoint in ids.
func (r *Repository) ListActiveByEndpoints(ctx context.Context, owner string, ids []string, types []models.RelationshipType) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListActiveByEndpoints")
	defer span.End()

	if len(ids) == 0 {
		return []models.Relationship{}, nil
	}

	var (
		out  []models.Relationship
		seen = map[string]bool{}
	)
	for start := 0; start < len(ids); start += endpointChunk {
		chunk := ids[start:min(start+endpointChunk, len(ids))]

		sb := r.db.Flavor().NewSelectBuilder()
		sb.Select(columns...)
		sb.From(table)
		sb.Where(
			sb.Equal("owner", owner),
			sb.IsNull("deleted_at"),
			sb.Or(
				sb.In("source_entity_id", toAny(chunk)...),
				sb.In("target_entity_id", toAny(chunk)...),
			),
		)
		if len(types) > 0 {
			sb.Where(sb.In("relationship_type", typesToAny(types)...))
		}

		rels, err := r.list(ctx, sb)
		if err != nil {
			return nil, err
		}
		// an edge between two chunks matches both queries
		for _, rel := range rels {
			if !seen[rel.ID] {
				seen[rel.ID] = true
				out = append(out, rel)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if out == nil {
		out = []models.Relationship{}
	}
	return out, nil
}

// ListActiveByTypes returns every non-deleted relationship of the given types for owner.
func (r *Repository) ListActiveByTypes(ctx context.Context, owner string, types []models.RelationshipType) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListActiveByTypes")
	defer span.End()

	if len(types) == 0 {
		return []models.Relationship{}, nil
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.IsNull("deleted_at"),
		sb.In("relationship_type", typesToAny(types)...),
	)
	sb.OrderBy("id")

	return r.list(ctx, sb)
}

// ListAll returns every relationship row for owner, or for all owners when owner is empty.
func (r *Repository) ListAll(ctx context.Context, owner string) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListAll")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	if owner != "" {
		sb.Where(sb.Equal("owner", owner))
	}
	sb.OrderBy("id")

	return r.list(ctx, sb)
}

func (r *Repository) list(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Relationship, error) {
	query, args := sb.Build()
	rels := []models.Relationship{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &rels, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list relationships")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list relationships")
	}
	return rels, nil
}

// RepointEndpoints moves every edge endpoint equal to fromID onto toID and
// returns the number of rows touched.
func (r *Repository) RepointEndpoints(ctx context.Context, owner, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.RepointEndpoints")
	defer span.End()

	var total int64
	for _, column := range []string{"source_entity_id", "target_entity_id"} {
		ub := r.db.Flavor().NewUpdateBuilder()
		ub.Update(table)
		ub.Set(
			ub.Assign(column, toID),
			ub.Assign("updated_at", time.Now().UTC()),
		)
		ub.Where(
			ub.Equal("owner", owner),
			ub.Equal(column, fromID),
		)

		query, args := ub.Build()
		result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"from": fromID, "to": toID, "column": column}).Error("Failed to repoint relationships")
			return 0, apperror.StorageWriteFailed(err, "failed to repoint relationships")
		}
		rows, _ := result.RowsAffected()
		total += rows
	}

	return total, nil
}

// SetDeleted soft-deletes or, with a nil deletedAt, restores a relationship.
func (r *Repository) SetDeleted(ctx context.Context, owner, id string, deletedAt *time.Time, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.SetDeleted")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("deleted_at", deletedAt),
		ub.Assign("deleted_reason", reason),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("owner", owner),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to update relationship deletion state")
		return apperror.StorageWriteFailed(err, "failed to update relationship deletion state")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NotFound(string(models.SubjectKindRelationship), id)
	}
	return nil
}

func liveEndpoint(column string) string {
	return column + " NOT IN (SELECT id FROM entities WHERE deleted_at IS NOT NULL)"
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func typesToAny(types []models.RelationshipType) []any {
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
