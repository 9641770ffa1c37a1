// Package traversal answers read-only graph queries.
package traversal

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/validation"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
	MaxHops      = 5
)

type Service struct {
	entities      *entity.Repository
	relationships *relationship.Repository
	logger        ectologger.Logger
}

func NewService(entities *entity.Repository, relationships *relationship.Repository, logger ectologger.Logger) *Service {
	return &Service{
		entities:      entities,
		relationships: relationships,
		logger:        logger,
	}
}

// Related lists the direct edges of an entity, oldest first. A merged id
// answers for its terminal entity.
func (s *Service) Related(ctx context.Context, owner string, q models.RelatedQuery) (_ []models.Relationship, err error) {
	ctx, span := tracing.StartSpan(ctx, "traversal.Service.Related")
	defer span.End()
	defer metrics.RecordOperation("related", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(q); err != nil {
		return nil, err
	}
	if q.Direction == "" {
		q.Direction = models.DirectionBoth
	}
	if !q.Direction.IsValid() {
		return nil, apperror.InvalidArgument("direction must be outbound, inbound or both").WithField("direction")
	}
	if q.RelationshipType != "" && !q.RelationshipType.IsValid() {
		return nil, apperror.InvalidArgument("unknown relationship type %q", q.RelationshipType).WithField("relationship_type")
	}
	switch {
	case q.Limit < 0 || q.Limit > MaxLimit:
		return nil, apperror.InvalidArgument("limit must be between 1 and %d", MaxLimit).WithField("limit")
	case q.Limit == 0:
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		return nil, apperror.InvalidArgument("offset must not be negative").WithField("offset")
	}

	seed, err := s.entities.Resolve(ctx, owner, q.EntityID)
	if err != nil {
		return nil, err
	}

	return s.relationships.ListByEndpoint(ctx, owner, seed.ID, relationship.ListFilter{
		Direction:        q.Direction,
		RelationshipType: q.RelationshipType,
		IncludeDeleted:   q.IncludeDeleted,
		Limit:            q.Limit,
		Offset:           q.Offset,
	})
}

// Neighborhood expands breadth-first from an entity for up to MaxHops hops.
// Deleted entities and relationships are neither returned nor traversed, and
// a visited set keeps cyclic graphs finite. The seed is always returned;
// the entity type filter limits every other entity.
func (s *Service) Neighborhood(ctx context.Context, owner string, q models.NeighborhoodQuery) (_ *models.Neighborhood, err error) {
	ctx, span := tracing.StartSpan(ctx, "traversal.Service.Neighborhood")
	defer span.End()
	defer metrics.RecordOperation("neighborhood", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(q); err != nil {
		return nil, err
	}
	if q.MaxHops < 0 || q.MaxHops > MaxHops {
		return nil, apperror.InvalidArgument("max_hops must be between 0 and %d", MaxHops).WithField("max_hops")
	}
	for _, t := range q.RelationshipTypes {
		if !t.IsValid() {
			return nil, apperror.InvalidArgument("unknown relationship type %q", t).WithField("relationship_types")
		}
	}

	seed, err := s.entities.Resolve(ctx, owner, q.EntityID)
	if err != nil {
		return nil, err
	}
	if !seed.IsActive() {
		return nil, apperror.NotFound(string(models.SubjectKindEntity), q.EntityID)
	}

	typeFilter := make(map[string]bool, len(q.EntityTypes))
	for _, t := range q.EntityTypes {
		typeFilter[t] = true
	}

	result := &models.Neighborhood{
		SeedID:        seed.ID,
		Entities:      []models.Entity{*seed},
		Relationships: []models.Relationship{},
		Hops:          map[string]int{seed.ID: 0},
	}
	seenEdges := map[string]bool{}
	frontier := []string{seed.ID}

	for hop := 1; hop <= q.MaxHops && len(frontier) > 0; hop++ {
		edges, err := s.relationships.ListActiveByEndpoints(ctx, owner, frontier, q.RelationshipTypes)
		if err != nil {
			return nil, err
		}

		var candidates []string
		candidateSeen := map[string]bool{}
		for _, rel := range edges {
			for _, id := range []string{rel.SourceEntityID, rel.TargetEntityID} {
				if _, visited := result.Hops[id]; !visited && !candidateSeen[id] {
					candidateSeen[id] = true
					candidates = append(candidates, id)
				}
			}
		}

		rows, err := s.entities.ListByIDs(ctx, owner, candidates)
		if err != nil {
			return nil, err
		}
		admitted := make(map[string]*models.Entity, len(rows))
		for i := range rows {
			e := &rows[i]
			if !e.IsActive() {
				continue
			}
			if len(typeFilter) > 0 && !typeFilter[e.EntityType] {
				continue
			}
			admitted[e.ID] = e
		}

		var next []string
		for _, id := range candidates {
			if e, ok := admitted[id]; ok {
				result.Entities = append(result.Entities, *e)
				result.Hops[id] = hop
				next = append(next, id)
			}
		}

		for _, rel := range edges {
			if seenEdges[rel.ID] {
				continue
			}
			_, sourceIn := result.Hops[rel.SourceEntityID]
			_, targetIn := result.Hops[rel.TargetEntityID]
			if sourceIn && targetIn {
				seenEdges[rel.ID] = true
				result.Relationships = append(result.Relationships, rel)
			}
		}

		frontier = next
	}

	return result, nil
}
