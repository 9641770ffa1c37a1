// Package snapshot computes and caches reduced subject state.
package snapshot

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/observation"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reducer"
	"github.com/Ramsey-B/fern/pkg/schema"
)

type Service struct {
	entities      *entity.Repository
	relationships *relationship.Repository
	observations  *observation.Repository
	schemas       *schema.Registry
	cache         Cache
	logger        ectologger.Logger
}

func NewService(
	entities *entity.Repository,
	relationships *relationship.Repository,
	observations *observation.Repository,
	schemas *schema.Registry,
	cache Cache,
	logger ectologger.Logger,
) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{
		entities:      entities,
		relationships: relationships,
		observations:  observations,
		schemas:       schemas,
		cache:         cache,
		logger:        logger,
	}
}

// Reduce returns the snapshot of a subject. Merged entity ids redirect to
// their terminal entity. Cache failures degrade to a direct reduction.
func (s *Service) Reduce(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (_ *models.Snapshot, err error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Service.Reduce")
	defer span.End()
	defer metrics.RecordOperation("reduce", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	id, typeName, err := s.subject(ctx, owner, kind, subjectID)
	if err != nil {
		return nil, err
	}

	sch, err := s.schemas.Get(ctx, owner, kind, typeName)
	if err != nil {
		return nil, err
	}

	key := Key{Owner: owner, Kind: kind, SubjectID: id, SchemaID: sch.ID, SchemaVersion: sch.Version}
	if cached, ok, cacheErr := s.cache.Get(ctx, key); cacheErr != nil {
		s.logger.WithContext(ctx).WithError(cacheErr).Warn("Snapshot cache read failed")
	} else if ok {
		metrics.RecordCacheLookup(true)
		return cached, nil
	}
	metrics.RecordCacheLookup(false)

	generation, genErr := s.cache.Generation(ctx, owner, kind, id)

	observations, err := s.observations.ListBySubject(ctx, owner, kind, id)
	if err != nil {
		return nil, err
	}

	snap := reducer.Reduce(sch, reducer.Subject{ID: id, Kind: kind}, observations)

	if genErr == nil {
		if err := s.cache.Set(ctx, key, generation, snap); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Snapshot cache write failed")
		}
	}

	return snap, nil
}

// Invalidate drops any cached snapshot of the subject.
func (s *Service) Invalidate(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) {
	if err := s.cache.Invalidate(ctx, owner, kind, subjectID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subject_kind": kind,
			"subject_id":   subjectID,
		}).Warn("Snapshot cache invalidation failed")
	}
}

// subject resolves the id that observations are stored under and the type
// whose schema applies.
func (s *Service) subject(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (string, string, error) {
	switch kind {
	case models.SubjectKindEntity:
		e, err := s.entities.Resolve(ctx, owner, subjectID)
		if err != nil {
			return "", "", err
		}
		return e.ID, e.EntityType, nil
	case models.SubjectKindRelationship:
		rel, err := s.relationships.Get(ctx, owner, subjectID)
		if err != nil {
			return "", "", err
		}
		return rel.ID, string(rel.RelationshipType), nil
	default:
		return "", "", apperror.InvalidArgument("unknown subject kind %q", kind)
	}
}
