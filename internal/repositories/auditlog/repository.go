package auditlog

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "lifecycle_events"

var columns = []string{"id", "owner", "subject_kind", "subject_id", "action", "reason", "actor", "related_id", "created_at"}

// Repository records delete, restore and merge actions.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Record(ctx context.Context, event *models.LifecycleEvent) error {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.Record")
	defer span.End()

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return apperror.Wrap(apperror.CodeInternal, err, "failed to generate event id")
		}
		event.ID = id.String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(event.ID, event.Owner, event.SubjectKind, event.SubjectID, event.Action, event.Reason, event.Actor, event.RelatedID, event.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subject_id": event.SubjectID,
			"action":     event.Action,
		}).Error("Failed to record lifecycle event")
		return apperror.StorageWriteFailed(err, "failed to record lifecycle event")
	}
	return nil
}

// ListBySubject returns the audit trail of one subject, oldest first.
func (r *Repository) ListBySubject(ctx context.Context, owner, subjectID string) ([]models.LifecycleEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.ListBySubject")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("owner", owner),
		sb.Equal("subject_id", subjectID),
	)
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	events := []models.LifecycleEvent{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subject_id": subjectID}).Error("Failed to list lifecycle events")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to list lifecycle events")
	}
	return events, nil
}
