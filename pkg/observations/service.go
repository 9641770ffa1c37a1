// Package observations appends attributable field facts and corrections.
package observations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/observation"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/repositories/source"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/snapshot"
	"github.com/Ramsey-B/fern/pkg/validation"
)

// maxRedirects bounds the locked merged_into walk.
const maxRedirects = 64

// Input is one observation before its subject has been checked.
type Input struct {
	FieldName    string
	Value        json.RawMessage
	SourceID     string
	IsCorrection bool
	ObservedAt   *time.Time
}

type Service struct {
	db            database.DB
	observations  *observation.Repository
	entities      *entity.Repository
	relationships *relationship.Repository
	sources       *source.Repository
	schemas       *schema.Registry
	snapshots     *snapshot.Service
	emitter       events.Emitter
	logger        ectologger.Logger
}

func NewService(
	db database.DB,
	observations *observation.Repository,
	entities *entity.Repository,
	relationships *relationship.Repository,
	sources *source.Repository,
	schemas *schema.Registry,
	snapshots *snapshot.Service,
	emitter events.Emitter,
	logger ectologger.Logger,
) *Service {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Service{
		db:            db,
		observations:  observations,
		entities:      entities,
		relationships: relationships,
		sources:       sources,
		schemas:       schemas,
		snapshots:     snapshots,
		emitter:       emitter,
		logger:        logger,
	}
}

// Append records one observation. Appends to a merged entity land on its
// terminal target. Deleted subjects still accept facts.
func (s *Service) Append(ctx context.Context, owner string, req models.AppendRequest) (_ *models.Observation, err error) {
	ctx, span := tracing.StartSpan(ctx, "observations.Service.Append")
	defer span.End()
	defer metrics.RecordOperation("append_observation", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var obs *models.Observation
	err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
		subjectID, typeName, err := s.Subject(ctx, owner, req.SubjectKind, req.SubjectID)
		if err != nil {
			return err
		}
		obs, err = s.Record(ctx, owner, req.SubjectKind, subjectID, typeName, Input{
			FieldName:    req.FieldName,
			Value:        req.Value,
			SourceID:     req.SourceID,
			IsCorrection: req.IsCorrection,
			ObservedAt:   req.ObservedAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Committed(ctx, *obs)
	return obs, nil
}

// ApplyCorrection appends an authoritative correction and returns the
// subject's snapshot as it stands afterwards.
func (s *Service) ApplyCorrection(ctx context.Context, owner string, req models.CorrectionRequest) (_ *models.Observation, _ *models.Snapshot, err error) {
	ctx, span := tracing.StartSpan(ctx, "observations.Service.ApplyCorrection")
	defer span.End()
	defer metrics.RecordOperation("apply_correction", time.Now(), &err)

	obs, err := s.Append(ctx, owner, models.AppendRequest{
		SubjectID:    req.SubjectID,
		SubjectKind:  req.SubjectKind,
		FieldName:    req.FieldName,
		Value:        req.Value,
		SourceID:     req.SourceID,
		IsCorrection: true,
		ObservedAt:   req.ObservedAt,
	})
	if err != nil {
		return nil, nil, err
	}

	snap, err := s.snapshots.Reduce(ctx, owner, obs.SubjectKind, obs.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	return obs, snap, nil
}

// Subject resolves the id observations of a subject are stored under and the
// type name whose schema applies. Entity rows are share-locked so a concurrent
// merge cannot repoint underneath the append.
func (s *Service) Subject(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (string, string, error) {
	switch kind {
	case models.SubjectKindEntity:
		current, err := s.entities.GetForShare(ctx, owner, subjectID)
		if err != nil {
			return "", "", err
		}
		for hops := 0; current.MergedInto != nil; hops++ {
			if hops >= maxRedirects {
				return "", "", apperror.Newf(apperror.CodeMergeCycle, "merge chain from %s does not terminate", subjectID).
					WithSubject(string(models.SubjectKindEntity), subjectID)
			}
			current, err = s.entities.GetForShare(ctx, owner, *current.MergedInto)
			if err != nil {
				return "", "", err
			}
		}
		return current.ID, current.EntityType, nil
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

// Record validates in against the subject's schema and inserts it in the
// context transaction. subjectID must already be resolved. Callers run
// Committed once their transaction commits.
func (s *Service) Record(ctx context.Context, owner string, kind models.SubjectKind, subjectID, typeName string, in Input) (*models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observations.Service.Record")
	defer span.End()

	if _, err := s.sources.Get(ctx, owner, in.SourceID); err != nil {
		return nil, err
	}

	sch, err := s.schemas.Get(ctx, owner, kind, typeName)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateObservation(sch, in.FieldName, in.Value, in.IsCorrection); err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return nil, appErr.WithSubject(string(kind), subjectID)
		}
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "failed to generate observation id")
	}

	createdAt := time.Now().UTC()
	if in.ObservedAt != nil {
		createdAt = in.ObservedAt.UTC()
	}

	obs := &models.Observation{
		ID:                id.String(),
		Owner:             owner,
		SubjectID:         subjectID,
		OriginalSubjectID: subjectID,
		SubjectKind:       kind,
		FieldName:         in.FieldName,
		Value:             database.NewJSONB(in.Value),
		SourceID:          in.SourceID,
		IsCorrection:      in.IsCorrection,
		CreatedAt:         createdAt,
	}
	if err := s.observations.Create(ctx, obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// Committed invalidates cached snapshots of the observed subjects and emits
// one observation.appended event per observation.
func (s *Service) Committed(ctx context.Context, observations ...models.Observation) {
	if len(observations) == 0 {
		return
	}

	type subject struct {
		kind models.SubjectKind
		id   string
	}
	seen := map[subject]bool{}
	evs := make([]events.Event, 0, len(observations))
	for i := range observations {
		obs := &observations[i]
		key := subject{obs.SubjectKind, obs.SubjectID}
		if !seen[key] {
			seen[key] = true
			s.snapshots.Invalidate(ctx, obs.Owner, obs.SubjectKind, obs.SubjectID)
		}
		evs = append(evs, events.ObservationAppended(obs))
	}
	events.Notify(ctx, s.emitter, s.logger, evs...)
}
