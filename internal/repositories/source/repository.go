package source

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

const table = "sources"

var columns = []string{"id", "owner", "content_hash", "storage_location", "storage_status", "mime_type", "byte_size", "source_type", "metadata", "created_at", "updated_at"}

// Repository handles source persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts src unless (owner, content_hash) already exists. It reports
// whether this call created the row.
func (r *Repository) Create(ctx context.Context, src *models.Source) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(src.ID, src.Owner, src.ContentHash, src.StorageLocation, src.StorageStatus, src.MimeType, src.ByteSize, src.SourceType, src.Metadata, src.CreatedAt, src.UpdatedAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"content_hash": src.ContentHash}).Error("Failed to create source")
		return false, apperror.StorageWriteFailed(err, "failed to create source")
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Get retrieves a source by id within owner.
func (r *Repository) Get(ctx context.Context, owner, id string) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Get")
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

// GetByHash retrieves the source for (owner, content_hash).
func (r *Repository) GetByHash(ctx context.Context, owner, contentHash string) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.GetByHash")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.Equal("content_hash", contentHash),
	)

	return r.getOne(ctx, sb.Build, contentHash)
}

func (r *Repository) getOne(ctx context.Context, build func() (string, []any), key string) (*models.Source, error) {
	query, args := build()
	var src models.Source
	if err := r.db.Querier(ctx).GetContext(ctx, &src, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("source", key)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get source")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to get source")
	}
	return &src, nil
}

// UpdateStorage records the blob write outcome. A positive byteSize fills in
// the size of a source first registered by hash alone; the hash never changes.
func (r *Repository) UpdateStorage(ctx context.Context, owner, id string, status models.StorageStatus, location string, byteSize int64) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.UpdateStorage")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("storage_status", status),
		ub.Assign("storage_location", location),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	if byteSize > 0 {
		ub.SetMore(ub.Assign("byte_size", byteSize))
	}
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("owner", owner),
	)

	query, args := ub.Build()
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "status": status}).Error("Failed to update source storage status")
		return apperror.StorageWriteFailed(err, "failed to update source storage status")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NotFound("source", id)
	}
	return nil
}
