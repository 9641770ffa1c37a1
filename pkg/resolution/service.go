// Package resolution assigns deterministic entity identities and merges duplicates.
package resolution

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/auditlog"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/observation"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/integrity"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observations"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/snapshot"
	"github.com/Ramsey-B/fern/pkg/validation"
)

// maxRedirects bounds merge chain walks.
const maxRedirects = 64

type Service struct {
	db            database.DB
	entities      *entity.Repository
	relationships *relationship.Repository
	observations  *observation.Repository
	appender      *observations.Service
	audit         *auditlog.Repository
	schemas       *schema.Registry
	snapshots     *snapshot.Service
	guard         *integrity.Guard
	emitter       events.Emitter
	logger        ectologger.Logger
}

func NewService(
	db database.DB,
	entities *entity.Repository,
	relationships *relationship.Repository,
	observationRepo *observation.Repository,
	appender *observations.Service,
	audit *auditlog.Repository,
	schemas *schema.Registry,
	snapshots *snapshot.Service,
	guard *integrity.Guard,
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
		observations:  observationRepo,
		appender:      appender,
		audit:         audit,
		schemas:       schemas,
		snapshots:     snapshots,
		guard:         guard,
		emitter:       emitter,
		logger:        logger,
	}
}

// ResolveOrCreate finds the entity with req's normalized identity, creating it
// if needed, and appends the candidate observations to its terminal entity.
func (s *Service) ResolveOrCreate(ctx context.Context, owner string, req models.ResolveRequest) (_ *models.ResolveResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.ResolveOrCreate")
	defer span.End()
	defer metrics.RecordOperation("resolve_or_create", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var (
		result   *models.ResolveResult
		appended []models.Observation
	)
	err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
		var err error
		result, appended, err = s.Resolve(ctx, owner, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		events.Notify(ctx, s.emitter, s.logger, events.EntityCreated(&result.Entity))
	}
	s.appender.Committed(ctx, appended...)

	return result, nil
}

// Resolve is ResolveOrCreate inside the caller's transaction. It returns the
// appended observations so the caller can publish them after commit.
func (s *Service) Resolve(ctx context.Context, owner string, req models.ResolveRequest) (*models.ResolveResult, []models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.Resolve")
	defer span.End()

	sch, err := s.schemas.Get(ctx, owner, models.SubjectKindEntity, req.EntityType)
	if err != nil {
		return nil, nil, err
	}

	key, err := IdentityKey(owner, req.EntityType, req.CanonicalName, sch, req.Observations)
	if err != nil {
		return nil, nil, apperror.InvalidArgument("%s", err.Error())
	}

	candidate := &models.Entity{
		ID:            EntityID(key),
		Owner:         owner,
		EntityType:    req.EntityType,
		CanonicalName: req.CanonicalName,
		IdentityKey:   IdentityHash(key),
	}
	created, err := s.entities.Create(ctx, candidate)
	if err != nil {
		return nil, nil, err
	}

	if created {
		present := make(map[string]bool, len(req.Observations))
		for _, obs := range req.Observations {
			if _, tomb := models.ParseTombstone(obs.Value); !tomb {
				present[obs.FieldName] = true
			}
		}
		if err := schema.ValidateRequired(sch, present); err != nil {
			return nil, nil, withSubject(err, candidate.ID)
		}
	}

	subjectID, typeName, err := s.appender.Subject(ctx, owner, models.SubjectKindEntity, candidate.ID)
	if err != nil {
		return nil, nil, err
	}
	terminal, err := s.entities.Get(ctx, owner, subjectID)
	if err != nil {
		return nil, nil, err
	}

	appended := make([]models.Observation, 0, len(req.Observations))
	for i, c := range req.Observations {
		obs, err := s.appender.Record(ctx, owner, models.SubjectKindEntity, subjectID, typeName, observations.Input{
			FieldName:    c.FieldName,
			Value:        c.Value,
			SourceID:     c.SourceID,
			IsCorrection: c.IsCorrection,
			ObservedAt:   c.ObservedAt,
		})
		if err != nil {
			return nil, nil, withIndex(err, i)
		}
		appended = append(appended, *obs)
	}

	return &models.ResolveResult{
		Entity:       *terminal,
		Created:      created,
		Observations: appended,
	}, appended, nil
}

// Merge folds duplicateID into targetID. Observations and relationship
// endpoints are repointed, never copied, and the duplicate redirects to the
// target from then on. Merging entities that already share a terminal is a no-op.
func (s *Service) Merge(ctx context.Context, owner, duplicateID string, req models.MergeRequest, actor string) (_ *models.MergeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.Merge")
	defer span.End()
	defer metrics.RecordOperation("merge", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	targetID := req.TargetID
	if duplicateID == targetID {
		return nil, apperror.New(apperror.CodeMergeCycle, "an entity cannot be merged into itself").
			WithSubject(string(models.SubjectKindEntity), duplicateID)
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"duplicate_id": duplicateID,
		"target_id":    targetID,
	})

	var result *models.MergeResult
	err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
		target, err := s.terminal(ctx, owner, targetID, duplicateID)
		if err != nil {
			return err
		}
		duplicate, err := s.terminal(ctx, owner, duplicateID, "")
		if err != nil {
			return err
		}

		if duplicate.ID == target.ID {
			result = &models.MergeResult{TargetID: target.ID, DuplicateID: duplicateID, AlreadyMerged: true}
			return nil
		}
		if target.DeletedAt != nil {
			return apperror.IntegrityViolation(string(models.SubjectKindEntity), target.ID, "cannot merge into a deleted entity")
		}
		if duplicate.DeletedAt != nil {
			return apperror.IntegrityViolation(string(models.SubjectKindEntity), duplicate.ID, "cannot merge a deleted entity")
		}

		if err := s.guard.Check(ctx, owner, integrity.Change{
			Redirect: map[string]string{duplicate.ID: target.ID},
		}, models.SubjectKindEntity, duplicate.ID); err != nil {
			return err
		}

		ok, err := s.entities.MarkMerged(ctx, owner, duplicate.ID, target.ID, duplicate.Version)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ConcurrentModification(string(models.SubjectKindEntity), duplicate.ID)
		}
		ok, err = s.entities.Touch(ctx, owner, target.ID, target.Version)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ConcurrentModification(string(models.SubjectKindEntity), target.ID)
		}

		moved, err := s.observations.Repoint(ctx, owner, duplicate.ID, target.ID)
		if err != nil {
			return err
		}
		repointed, err := s.relationships.RepointEndpoints(ctx, owner, duplicate.ID, target.ID)
		if err != nil {
			return err
		}

		related := target.ID
		if err := s.audit.Record(ctx, &models.LifecycleEvent{
			Owner:       owner,
			SubjectKind: models.SubjectKindEntity,
			SubjectID:   duplicate.ID,
			Action:      models.LifecycleActionMerge,
			Reason:      req.Reason,
			Actor:       actor,
			RelatedID:   &related,
		}); err != nil {
			return err
		}

		result = &models.MergeResult{
			TargetID:               target.ID,
			DuplicateID:            duplicate.ID,
			ObservationsMoved:      moved,
			RelationshipsRepointed: repointed,
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Merge rejected")
		return nil, err
	}
	if result.AlreadyMerged {
		return result, nil
	}

	log.WithFields(map[string]any{
		"observations_moved":      result.ObservationsMoved,
		"relationships_repointed": result.RelationshipsRepointed,
	}).Info("Merged entity")

	s.snapshots.Invalidate(ctx, owner, models.SubjectKindEntity, result.DuplicateID)
	s.snapshots.Invalidate(ctx, owner, models.SubjectKindEntity, result.TargetID)
	events.Notify(ctx, s.emitter, s.logger, events.EntityMerged(owner, result, actor))

	return result, nil
}

// terminal locks id and every entity on its merge chain and returns the last
// one. Reaching forbidden on the way means the merge would close a loop.
func (s *Service) terminal(ctx context.Context, owner, id, forbidden string) (*models.Entity, error) {
	current, err := s.entities.GetForUpdate(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	for hops := 0; current.MergedInto != nil; hops++ {
		next := *current.MergedInto
		if (forbidden != "" && next == forbidden) || hops >= maxRedirects {
			return nil, apperror.Newf(apperror.CodeMergeCycle, "%s is already merged into %s", id, next).
				WithSubject(string(models.SubjectKindEntity), id)
		}
		current, err = s.entities.GetForUpdate(ctx, owner, next)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func withIndex(err error, index int) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.WithItemIndex(index)
	}
	return err
}

func withSubject(err error, id string) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.WithSubject(string(models.SubjectKindEntity), id)
	}
	return err
}
