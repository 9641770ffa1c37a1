package entity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "entities"

// maxRedirects bounds merged_into chain walks so corrupted data cannot loop forever.
const maxRedirects = 64

var columns = []string{"id", "owner", "entity_type", "canonical_name", "identity_key", "merged_into", "deleted_at", "deleted_reason", "version", "created_at", "updated_at"}

// Repository handles entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Create inserts e unless its deterministic id already exists and reports
// whether this call created the row.
func (r *Repository) Create(ctx context.Context, e *models.Entity) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Version = 1

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(e.ID, e.Owner, e.EntityType, e.CanonicalName, e.IdentityKey, e.MergedInto, e.DeletedAt, e.DeletedReason, e.Version, e.CreatedAt, e.UpdatedAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": e.ID, "entity_type": e.EntityType}).Error("Failed to create entity")
		return false, apperror.StorageWriteFailed(err, "failed to create entity")
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Get returns the raw entity row, whatever its state.
func (r *Repository) Get(ctx context.Context, owner, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("owner", owner),
	)

	return r.getOne(ctx, sb.Build, id)
}

// GetForUpdate is Get with a row lock held until the context transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, owner, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetForUpdate")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("owner", owner),
	)
	database.LockForUpdate(sb)

	return r.getOne(ctx, sb.Build, id)
}

// GetForShare is Get with a shared row lock, used for relationship endpoints.
func (r *Repository) GetForShare(ctx context.Context, owner, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetForShare")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("owner", owner),
	)
	database.LockForShare(sb)

	return r.getOne(ctx, sb.Build, id)
}

func (r *Repository) getOne(ctx context.Context, build func() (string, []any), id string) (*models.Entity, error) {
	query, args := build()
	var e models.Entity
	if err := r.db.Querier(ctx).GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(string(models.SubjectKindEntity), id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get entity")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to get entity")
	}
	return &e, nil
}

// Resolve follows merged_into from id to the terminal entity.
func (r *Repository) Resolve(ctx context.Context, owner, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Resolve")
	defer span.End()

	current, err := r.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{current.ID: true}
	for hops := 0; current.MergedInto != nil; hops++ {
		next := *current.MergedInto
		if seen[next] || hops >= maxRedirects {
			r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "at": next}).Error("Entity merge chain does not terminate")
			return nil, apperror.Newf(apperror.CodeMergeCycle, "merge chain from %s does not terminate", id).WithSubject(string(models.SubjectKindEntity), id)
		}
		seen[next] = true

		current, err = r.Get(ctx, owner, next)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// ListByIDs returns the rows for ids in owner, in no particular order.
func (r *Repository) ListByIDs(ctx context.Context, owner string, ids []string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return []models.Entity{}, nil
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.In("id", toAny(ids)...),
	)

	query, args := sb.Build()
	entities := []models.Entity{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list entities")
	}
	return entities, nil
}

// ListAll returns every entity row for owner, or for all owners when owner is empty.
func (r *Repository) ListAll(ctx context.Context, owner string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListAll")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	if owner != "" {
		sb.Where(sb.Equal("owner", owner))
	}
	sb.OrderBy("id")

	query, args := sb.Build()
	entities := []models.Entity{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list entities")
	}
	return entities, nil
}

// MarkMerged sets merged_into with a compare-and-swap on version. It returns
// false when the row changed since it was read.
func (r *Repository) MarkMerged(ctx context.Context, owner, id, targetID string, expectedVersion int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.MarkMerged")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("merged_into", targetID),
		ub.Assign("updated_at", time.Now().UTC()),
		ub.Add("version", 1),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("owner", owner),
		ub.Equal("version", expectedVersion),
		ub.IsNull("merged_into"),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "target_id": targetID}).Error("Failed to mark entity merged")
		return false, apperror.StorageWriteFailed(err, "failed to mark entity merged")
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Touch bumps version so that concurrent mergers of the same row fail their CAS.
func (r *Repository) Touch(ctx context.Context, owner, id string, expectedVersion int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Touch")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("updated_at", time.Now().UTC()),
		ub.Add("version", 1),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("owner", owner),
		ub.Equal("version", expectedVersion),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to touch entity")
		return false, apperror.StorageWriteFailed(err, "failed to touch entity")
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// SetDeleted soft-deletes or, with a nil deletedAt, restores an entity.
func (r *Repository) SetDeleted(ctx context.Context, owner, id string, deletedAt *time.Time, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetDeleted")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("deleted_at", deletedAt),
		ub.Assign("deleted_reason", reason),
		ub.Assign("updated_at", time.Now().UTC()),
		ub.Add("version", 1),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("owner", owner),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to update entity deletion state")
		return apperror.StorageWriteFailed(err, "failed to update entity deletion state")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NotFound(string(models.SubjectKindEntity), id)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
