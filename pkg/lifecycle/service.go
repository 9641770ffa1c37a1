// Package lifecycle soft-deletes and restores entities and relationships.
package lifecycle

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/auditlog"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/integrity"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/snapshot"
	"github.com/Ramsey-B/fern/pkg/validation"
)

type Service struct {
	db            database.DB
	entities      *entity.Repository
	relationships *relationship.Repository
	audit         *auditlog.Repository
	guard         *integrity.Guard
	snapshots     *snapshot.Service
	emitter       events.Emitter
	logger        ectologger.Logger
}

func NewService(
	db database.DB,
	entities *entity.Repository,
	relationships *relationship.Repository,
	audit *auditlog.Repository,
	guard *integrity.Guard,
	snapshots *snapshot.Service,
	emitter events.Emitter,
	logger ectologger.Logger,
) *Service {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Service{
		db:            db,
		entities:      entities,
		relationships: relationships,
		audit:         audit,
		guard:         guard,
		snapshots:     snapshots,
		emitter:       emitter,
		logger:        logger,
	}
}

// Delete hides a subject from default reads. Observations and edges are kept.
// Deleting an already deleted subject succeeds and keeps the original reason.
func (s *Service) Delete(ctx context.Context, owner string, req models.LifecycleRequest) (_ *models.LifecycleResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Service.Delete")
	defer span.End()
	defer metrics.RecordOperation("delete", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	return s.apply(ctx, owner, req, models.LifecycleActionDelete)
}

// Restore clears a soft delete. Restoring an active subject is a no-op.
func (s *Service) Restore(ctx context.Context, owner string, req models.LifecycleRequest) (_ *models.LifecycleResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Service.Restore")
	defer span.End()
	defer metrics.RecordOperation("restore", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	return s.apply(ctx, owner, req, models.LifecycleActionRestore)
}

// History lists the audit trail of a subject, oldest first.
func (s *Service) History(ctx context.Context, owner, subjectID string) ([]models.LifecycleEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Service.History")
	defer span.End()

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	return s.audit.ListBySubject(ctx, owner, subjectID)
}

func (s *Service) apply(ctx context.Context, owner string, req models.LifecycleRequest, action models.LifecycleAction) (*models.LifecycleResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Actor == "" {
		req.Actor = appctx.GetActorID(ctx)
	}

	var result *models.LifecycleResult
	err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
		var err error
		switch req.SubjectKind {
		case models.SubjectKindEntity:
			result, err = s.applyEntity(ctx, owner, req, action)
		case models.SubjectKindRelationship:
			result, err = s.applyRelationship(ctx, owner, req, action)
		default:
			err = apperror.InvalidArgument("unknown subject kind %q", req.SubjectKind)
		}
		if err != nil || !result.Changed {
			return err
		}

		return s.audit.Record(ctx, &models.LifecycleEvent{
			Owner:       owner,
			SubjectKind: req.SubjectKind,
			SubjectID:   result.SubjectID,
			Action:      action,
			Reason:      req.Reason,
			Actor:       req.Actor,
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.snapshots.Invalidate(ctx, owner, result.SubjectKind, result.SubjectID)
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"subject_kind": result.SubjectKind,
			"subject_id":   result.SubjectID,
			"action":       action,
		}).Info("Subject lifecycle changed")

		ev := events.SubjectDeleted(owner, result.SubjectKind, result.SubjectID, req.Reason, req.Actor)
		if action == models.LifecycleActionRestore {
			ev = events.SubjectRestored(owner, result.SubjectKind, result.SubjectID, req.Reason, req.Actor)
		}
		events.Notify(ctx, s.emitter, s.logger, ev)
	}

	return result, nil
}

// applyEntity redirects merged ids to their terminal, which carries the state.
func (s *Service) applyEntity(ctx context.Context, owner string, req models.LifecycleRequest, action models.LifecycleAction) (*models.LifecycleResult, error) {
	e, err := s.entities.Resolve(ctx, owner, req.SubjectID)
	if err != nil {
		return nil, err
	}
	e, err = s.entities.GetForUpdate(ctx, owner, e.ID)
	if err != nil {
		return nil, err
	}

	result := &models.LifecycleResult{SubjectKind: models.SubjectKindEntity, SubjectID: e.ID}
	deleted := e.DeletedAt != nil
	if (action == models.LifecycleActionDelete) == deleted {
		return result, nil
	}

	if action == models.LifecycleActionDelete {
		now := time.Now().UTC()
		reason := req.Reason
		err = s.entities.SetDeleted(ctx, owner, e.ID, &now, &reason)
	} else {
		err = s.entities.SetDeleted(ctx, owner, e.ID, nil, nil)
	}
	if err != nil {
		return nil, err
	}

	result.Changed = true
	return result, nil
}

// applyRelationship re-checks acyclicity before an edge comes back.
func (s *Service) applyRelationship(ctx context.Context, owner string, req models.LifecycleRequest, action models.LifecycleAction) (*models.LifecycleResult, error) {
	rel, err := s.relationships.Get(ctx, owner, req.SubjectID)
	if err != nil {
		return nil, err
	}

	result := &models.LifecycleResult{SubjectKind: models.SubjectKindRelationship, SubjectID: rel.ID}
	if (action == models.LifecycleActionDelete) == rel.IsDeleted() {
		return result, nil
	}

	if action == models.LifecycleActionDelete {
		now := time.Now().UTC()
		reason := req.Reason
		err = s.relationships.SetDeleted(ctx, owner, rel.ID, &now, &reason)
	} else {
		if s.guard.IsAcyclic(rel.RelationshipType) {
			if err := s.guard.Check(ctx, owner, integrity.Change{
				Added: []integrity.Edge{{ID: rel.ID, Source: rel.SourceEntityID, Target: rel.TargetEntityID, Type: rel.RelationshipType}},
			}, models.SubjectKindRelationship, rel.ID); err != nil {
				return nil, err
			}
		}
		err = s.relationships.SetDeleted(ctx, owner, rel.ID, nil, nil)
	}
	if err != nil {
		return nil, err
	}

	result.Changed = true
	return result, nil
}
