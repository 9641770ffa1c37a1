package schema

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "schemas"

var columns = []string{"id", "owner", "subject_kind", "type_name", "fields", "allow_unknown_fields", "identity_fields", "version", "created_at", "updated_at"}

// Repository handles schema persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new schema repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes s keyed by (subject_kind, type_name, owner). Replacing an
// existing schema bumps its version.
func (r *Repository) Upsert(ctx context.Context, s *models.Schema) (*models.Schema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to generate schema id")
	}
	if s.Fields.Data == nil {
		s.Fields = database.NewJSONB(map[string]models.FieldDefinition{})
	}
	if s.IdentityFields.Data == nil {
		s.IdentityFields = database.NewJSONB([]string{})
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(id.String(), s.Owner, s.SubjectKind, s.TypeName, s.Fields, s.AllowUnknownFields, s.IdentityFields, 1, now, now)
	ib.OnConflictUpdate(
		[]string{"subject_kind", "type_name", "owner"},
		database.Excluded("fields"),
		database.Excluded("allow_unknown_fields"),
		database.Excluded("identity_fields"),
		database.Excluded("updated_at"),
		"version = "+table+".version + 1",
	)

	query, args := ib.Build()
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"owner":        s.Owner,
			"subject_kind": s.SubjectKind,
			"type_name":    s.TypeName,
		}).Error("Failed to upsert schema")
		return nil, apperror.StorageWriteFailed(err, "failed to upsert schema")
	}

	return r.Get(ctx, s.Owner, s.SubjectKind, s.TypeName)
}

// Get returns the schema stored under exactly owner. It does not fall back to the global schema.
func (r *Repository) Get(ctx context.Context, owner string, kind models.SubjectKind, typeName string) (*models.Schema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.Equal("subject_kind", kind),
		sb.Equal("type_name", typeName),
	)

	query, args := sb.Build()
	var s models.Schema
	if err := r.db.Querier(ctx).GetContext(ctx, &s, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("schema", string(kind)+"/"+typeName)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type_name": typeName}).Error("Failed to get schema")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to get schema")
	}
	return &s, nil
}

// List returns the schemas stored under owner ordered by kind and type.
func (r *Repository) List(ctx context.Context, owner string) ([]models.Schema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.Repository.List")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("owner", owner))
	sb.OrderBy("subject_kind", "type_name")

	query, args := sb.Build()
	schemas := []models.Schema{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &schemas, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list schemas")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list schemas")
	}
	return schemas, nil
}
