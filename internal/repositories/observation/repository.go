package observation

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "observations"

var columns = []string{"id", "owner", "subject_id", "original_subject_id", "subject_kind", "field_name", "value", "source_id", "is_correction", "created_at"}

// Repository handles observation persistence. Observations are append-only;
// the only update is the subject repoint performed by a merge.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new observation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create appends obs. The caller sets ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, obs *models.Observation) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.Create")
	defer span.End()

	if obs.OriginalSubjectID == "" {
		obs.OriginalSubjectID = obs.SubjectID
	}

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(obs.ID, obs.Owner, obs.SubjectID, obs.OriginalSubjectID, obs.SubjectKind, obs.FieldName, obs.Value, obs.SourceID, obs.IsCorrection, obs.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.Newf(apperror.CodeDuplicate, "observation %s already exists", obs.ID).WithSubject(string(obs.SubjectKind), obs.SubjectID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subject_id": obs.SubjectID,
			"field_name": obs.FieldName,
			"source_id":  obs.SourceID,
		}).Error("Failed to create observation")
		return apperror.StorageWriteFailed(err, "failed to append observation")
	}
	return nil
}

// ListBySubject returns every observation of one subject ordered by
// (created_at, id), which is the order reducers consume them in.
func (r *Repository) ListBySubject(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) ([]models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.ListBySubject")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.Equal("subject_kind", kind),
		sb.Equal("subject_id", subjectID),
	)
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	observations := []models.Observation{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &observations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subject_id": subjectID}).Error("Failed to list observations")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list observations")
	}
	return observations, nil
}

// Repoint moves every entity observation of fromID onto toID. original_subject_id is left alone.
func (r *Repository) Repoint(ctx context.Context, owner, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.Repoint")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Assign("subject_id", toID))
	ub.Where(
		ub.Equal("owner", owner),
		ub.Equal("subject_kind", models.SubjectKindEntity),
		ub.Equal("subject_id", fromID),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"from": fromID, "to": toID}).Error("Failed to repoint observations")
		return 0, apperror.StorageWriteFailed(err, "failed to repoint observations")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
