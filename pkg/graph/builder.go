// Package graph writes entity/relationship batches atomically and scans the
// stored graph for integrity violations.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/cycles"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/integrity"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observations"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/validation"
)

const (
	kindEntity       = string(models.SubjectKindEntity)
	kindRelationship = string(models.SubjectKindRelationship)
	kindObservation  = "observation"
)

// Builder applies BatchRequests as single all-or-nothing transactions.
type Builder struct {
	db            database.DB
	entities      *entity.Repository
	relationships *relationship.Repository
	appender      *observations.Service
	schemas       *schema.Registry
	guard         *integrity.Guard
	emitter       events.Emitter
	logger        ectologger.Logger
}

func NewBuilder(
	db database.DB,
	entities *entity.Repository,
	relationships *relationship.Repository,
	appender *observations.Service,
	schemas *schema.Registry,
	guard *integrity.Guard,
	emitter events.Emitter,
	logger ectologger.Logger,
) *Builder {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Builder{
		db:            db,
		entities:      entities,
		relationships: relationships,
		appender:      appender,
		schemas:       schemas,
		guard:         guard,
		emitter:       emitter,
		logger:        logger,
	}
}

// plannedEntity is a batch entity with its deterministic id and, when the id
// is already stored, the terminal entity it redirects to.
type plannedEntity struct {
	item     models.BatchEntity
	schema   *models.Schema
	key      string
	id       string
	terminal *models.Entity
}

func (p *plannedEntity) subjectID() string {
	if p.terminal != nil {
		return p.terminal.ID
	}
	return p.id
}

func (p *plannedEntity) typeName() string {
	if p.terminal != nil {
		return p.terminal.EntityType
	}
	return p.item.EntityType
}

type plannedRelationship struct {
	item   models.BatchRelationship
	source string
	target string
	id     string
}

type plannedObservation struct {
	item      models.BatchObservation
	subjectID string
	typeName  string
}

type batch struct {
	owner         string
	req           models.BatchRequest
	entities      []*plannedEntity
	entityRefs    map[string]*plannedEntity
	relationships []*plannedRelationship
	relRefs       map[string]*plannedRelationship
	observations  []*plannedObservation
}

// BatchCreate validates and writes req in one transaction. Validation runs in
// a fixed order (endpoints, acyclicity, observation subjects, observation
// schemas) and the first violation aborts the batch with that item's index.
func (b *Builder) BatchCreate(ctx context.Context, owner string, req models.BatchRequest) (_ *models.BatchResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Builder.BatchCreate")
	defer span.End()
	defer metrics.RecordOperation("batch_create", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	bt := &batch{
		owner:      owner,
		req:        req,
		entityRefs: map[string]*plannedEntity{},
		relRefs:    map[string]*plannedRelationship{},
	}
	if err := bt.checkShape(); err != nil {
		return nil, err
	}

	var (
		result   *models.BatchResult
		createdE []models.Entity
		createdR []models.Relationship
		appended []models.Observation
	)
	err = database.WithTx(ctx, b.db, func(ctx context.Context) error {
		if err := b.planEntities(ctx, bt); err != nil {
			return err
		}
		if err := b.checkEndpoints(ctx, bt); err != nil {
			return err
		}
		if err := b.checkAcyclic(ctx, bt); err != nil {
			return err
		}
		if err := b.checkSubjects(ctx, bt); err != nil {
			return err
		}
		if err := b.checkSchemas(ctx, bt); err != nil {
			return err
		}

		var err error
		result, createdE, createdR, appended, err = b.write(ctx, bt)
		return err
	})
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entities":      len(req.Entities),
			"relationships": len(req.Relationships),
			"observations":  len(req.Observations),
		}).Warn("Graph batch rejected")
		return nil, err
	}

	evs := make([]events.Event, 0, len(createdE)+len(createdR))
	for i := range createdE {
		evs = append(evs, events.EntityCreated(&createdE[i]))
	}
	for i := range createdR {
		evs = append(evs, events.RelationshipCreated(&createdR[i]))
	}
	events.Notify(ctx, b.emitter, b.logger, evs...)
	b.appender.Committed(ctx, appended...)

	return result, nil
}

// checkShape rejects malformed requests before anything is read.
func (bt *batch) checkShape() error {
	seen := map[string]bool{}
	for i, e := range bt.req.Entities {
		if models.IsRef(e.Ref) {
			return apperror.InvalidArgument("entity ref %q must not carry the %s prefix", e.Ref, models.RefPrefix).WithItemIndex(i)
		}
		if seen[e.Ref] {
			return apperror.InvalidArgument("duplicate entity ref %q", e.Ref).WithItemIndex(i)
		}
		seen[e.Ref] = true
	}

	seen = map[string]bool{}
	for i, r := range bt.req.Relationships {
		if !r.RelationshipType.IsValid() {
			return apperror.InvalidArgument("unknown relationship type %q", r.RelationshipType).WithItemIndex(i)
		}
		if r.Ref == "" {
			continue
		}
		if seen[r.Ref] {
			return apperror.InvalidArgument("duplicate relationship ref %q", r.Ref).WithItemIndex(i)
		}
		seen[r.Ref] = true
	}
	return nil
}

// planEntities computes each batch entity's deterministic id and looks up any
// stored row with that id. Identity fields come from the batch's own
// observations of the entity.
func (b *Builder) planEntities(ctx context.Context, bt *batch) error {
	for i, item := range bt.req.Entities {
		sch, err := b.schemas.Get(ctx, bt.owner, models.SubjectKindEntity, item.EntityType)
		if err != nil {
			return err
		}

		key, err := resolution.IdentityKey(bt.owner, item.EntityType, item.CanonicalName, sch, entityCandidates(bt, item.Ref))
		if err != nil {
			return apperror.InvalidArgument("%s", err.Error()).WithItemIndex(i)
		}

		planned := &plannedEntity{item: item, schema: sch, key: key, id: resolution.EntityID(key)}
		terminal, err := b.terminal(ctx, bt.owner, planned.id)
		switch {
		case err == nil:
			planned.terminal = terminal
		case !apperror.Is(err, apperror.CodeNotFound):
			return err
		}

		bt.entities = append(bt.entities, planned)
		bt.entityRefs[item.Ref] = planned
	}
	return nil
}

// checkEndpoints requires every relationship endpoint to be a batch entity
// or a stored entity whose terminal is active.
func (b *Builder) checkEndpoints(ctx context.Context, bt *batch) error {
	for i, item := range bt.req.Relationships {
		source, err := b.endpoint(ctx, bt, item.Source)
		if err != nil {
			return endpointError(err, item, i, "source", item.Source)
		}
		target, err := b.endpoint(ctx, bt, item.Target)
		if err != nil {
			return endpointError(err, item, i, "target", item.Target)
		}

		planned := &plannedRelationship{
			item:   item,
			source: source,
			target: target,
			id:     resolution.RelationshipID(bt.owner, source, target, item.RelationshipType),
		}
		bt.relationships = append(bt.relationships, planned)
		if item.Ref != "" {
			bt.relRefs[item.Ref] = planned
		}
	}
	return nil
}

func (b *Builder) endpoint(ctx context.Context, bt *batch, handle string) (string, error) {
	if models.IsRef(handle) {
		planned, ok := bt.entityRefs[models.RefName(handle)]
		if !ok {
			return "", fmt.Errorf("%s is not declared in this batch", handle)
		}
		if planned.terminal != nil && !planned.terminal.IsActive() {
			return "", fmt.Errorf("%s resolves to deleted entity %s", handle, planned.terminal.ID)
		}
		return planned.subjectID(), nil
	}

	terminal, err := b.terminal(ctx, bt.owner, handle)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return "", fmt.Errorf("entity %s does not exist", handle)
		}
		return "", err
	}
	if !terminal.IsActive() {
		return "", fmt.Errorf("entity %s is deleted", terminal.ID)
	}
	return terminal.ID, nil
}

func endpointError(err error, item models.BatchRelationship, index int, end, handle string) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.WithItemIndex(index)
	}
	id := item.Ref
	if id == "" {
		id = handle
	}
	return apperror.IntegrityViolation(kindRelationship, id, "%s endpoint: %s", end, err.Error()).WithItemIndex(index)
}

// checkAcyclic rejects the batch if its edges, together with what is stored,
// close a cycle among acyclic relationship types.
func (b *Builder) checkAcyclic(ctx context.Context, bt *batch) error {
	added := make([]integrity.Edge, 0, len(bt.relationships))
	for _, r := range bt.relationships {
		added = append(added, integrity.Edge{ID: r.id, Source: r.source, Target: r.target, Type: r.item.RelationshipType})
	}

	path, err := b.guard.FindCycle(ctx, bt.owner, integrity.Change{Added: added})
	if err != nil || path == nil {
		return err
	}

	index := 0
	for i, r := range bt.relationships {
		if b.guard.IsAcyclic(r.item.RelationshipType) && onPath(path, r.source, r.target) {
			index = i
			break
		}
	}
	id := bt.relationships[index].item.Ref
	if id == "" {
		id = bt.relationships[index].id
	}
	return apperror.IntegrityViolation(kindRelationship, id, "batch would create a cycle: %s", cycles.FormatPath(path)).WithItemIndex(index)
}

func onPath(path []string, from, to string) bool {
	for i := 0; i+1 < len(path); i++ {
		if path[i] == from && path[i+1] == to {
			return true
		}
	}
	return false
}

// checkSubjects resolves every observation subject to a batch item or a stored row.
func (b *Builder) checkSubjects(ctx context.Context, bt *batch) error {
	for i, item := range bt.req.Observations {
		planned := &plannedObservation{item: item}

		switch item.SubjectKind {
		case models.SubjectKindEntity:
			if models.IsRef(item.Subject) {
				e, ok := bt.entityRefs[models.RefName(item.Subject)]
				if !ok {
					return apperror.IntegrityViolation(kindObservation, item.Subject, "subject %s is not declared in this batch", item.Subject).WithItemIndex(i)
				}
				planned.subjectID, planned.typeName = e.subjectID(), e.typeName()
			} else {
				terminal, err := b.terminal(ctx, bt.owner, item.Subject)
				if err != nil {
					return subjectError(err, item.Subject, i)
				}
				planned.subjectID, planned.typeName = terminal.ID, terminal.EntityType
			}
		case models.SubjectKindRelationship:
			if models.IsRef(item.Subject) {
				r, ok := bt.relRefs[models.RefName(item.Subject)]
				if !ok {
					return apperror.IntegrityViolation(kindObservation, item.Subject, "subject %s is not declared in this batch", item.Subject).WithItemIndex(i)
				}
				planned.subjectID, planned.typeName = r.id, string(r.item.RelationshipType)
			} else {
				rel, err := b.relationships.Get(ctx, bt.owner, item.Subject)
				if err != nil {
					return subjectError(err, item.Subject, i)
				}
				planned.subjectID, planned.typeName = rel.ID, string(rel.RelationshipType)
			}
		default:
			return apperror.InvalidArgument("unknown subject kind %q", item.SubjectKind).WithItemIndex(i)
		}

		bt.observations = append(bt.observations, planned)
	}
	return nil
}

func subjectError(err error, subject string, index int) error {
	if apperror.Is(err, apperror.CodeNotFound) {
		return apperror.IntegrityViolation(kindObservation, subject, "subject %s does not exist", subject).WithItemIndex(index)
	}
	return err
}

// checkSchemas validates observation values and the required fields of
// entities this batch creates.
func (b *Builder) checkSchemas(ctx context.Context, bt *batch) error {
	present := map[string]map[string]bool{}
	for i, planned := range bt.observations {
		sch, err := b.schemas.Get(ctx, bt.owner, planned.item.SubjectKind, planned.typeName)
		if err != nil {
			return err
		}
		if err := schema.ValidateObservation(sch, planned.item.FieldName, planned.item.Value, planned.item.IsCorrection); err != nil {
			var appErr *apperror.Error
			if errors.As(err, &appErr) {
				return appErr.WithSubject(kindObservation, planned.item.Subject).WithItemIndex(i)
			}
			return err
		}

		if planned.item.SubjectKind == models.SubjectKindEntity {
			if present[planned.subjectID] == nil {
				present[planned.subjectID] = map[string]bool{}
			}
			if _, tomb := models.ParseTombstone(planned.item.Value); !tomb {
				present[planned.subjectID][planned.item.FieldName] = true
			}
		}
	}

	for i, planned := range bt.entities {
		if planned.terminal != nil {
			continue
		}
		if err := schema.ValidateRequired(planned.schema, present[planned.id]); err != nil {
			var appErr *apperror.Error
			if errors.As(err, &appErr) {
				return appErr.WithSubject(kindEntity, planned.item.Ref).WithItemIndex(i)
			}
			return err
		}
	}
	return nil
}

func (b *Builder) write(ctx context.Context, bt *batch) (*models.BatchResult, []models.Entity, []models.Relationship, []models.Observation, error) {
	result := &models.BatchResult{
		Entities:      make([]models.BatchItemResult, 0, len(bt.entities)),
		Relationships: make([]models.BatchItemResult, 0, len(bt.relationships)),
		Observations:  make([]models.BatchItemResult, 0, len(bt.observations)),
	}
	var (
		createdEntities      []models.Entity
		createdRelationships []models.Relationship
		appended             []models.Observation
	)

	for i, planned := range bt.entities {
		status := models.BatchItemExisting
		if planned.terminal == nil {
			e := &models.Entity{
				ID:            planned.id,
				Owner:         bt.owner,
				EntityType:    planned.item.EntityType,
				CanonicalName: planned.item.CanonicalName,
				IdentityKey:   resolution.IdentityHash(planned.key),
			}

			created, err := b.entities.Create(ctx, e)
			if err != nil {
				return nil, nil, nil, nil, withIndex(err, i)
			}
			if created {
				status = models.BatchItemCreated
				createdEntities = append(createdEntities, *e)
			}
		}
		result.Entities = append(result.Entities, models.BatchItemResult{
			Index:  i,
			Ref:    planned.item.Ref,
			ID:     planned.subjectID(),
			Status: status,
		})
	}

	for i, planned := range bt.relationships {
		existing, err := b.relationships.FindActive(ctx, bt.owner, planned.source, planned.target, planned.item.RelationshipType)
		if err != nil {
			return nil, nil, nil, nil, withIndex(err, i)
		}
		if existing != nil {
			planned.id = existing.ID
			result.Relationships = append(result.Relationships, models.BatchItemResult{Index: i, Ref: planned.item.Ref, ID: existing.ID, Status: models.BatchItemExisting})
			continue
		}

		rel := &models.Relationship{
			ID:               planned.id,
			Owner:            bt.owner,
			SourceEntityID:   planned.source,
			TargetEntityID:   planned.target,
			RelationshipType: planned.item.RelationshipType,
			Metadata:         database.NewJSONB(planned.item.Metadata),
		}
		created, err := b.relationships.Create(ctx, rel)
		if err != nil {
			return nil, nil, nil, nil, withIndex(err, i)
		}
		if !created {
			// the deterministic id belongs to a soft-deleted edge
			return nil, nil, nil, nil, apperror.IntegrityViolation(kindRelationship, planned.id,
				"relationship %s is deleted; restore it instead of recreating it", planned.id).WithItemIndex(i)
		}
		createdRelationships = append(createdRelationships, *rel)
		result.Relationships = append(result.Relationships, models.BatchItemResult{Index: i, Ref: planned.item.Ref, ID: rel.ID, Status: models.BatchItemCreated})
	}

	for i, planned := range bt.observations {
		subjectID := planned.subjectID
		if planned.item.SubjectKind == models.SubjectKindRelationship && models.IsRef(planned.item.Subject) {
			// a reused edge may carry a different id than the planned one
			subjectID = bt.relRefs[models.RefName(planned.item.Subject)].id
		}

		obs, err := b.appender.Record(ctx, bt.owner, planned.item.SubjectKind, subjectID, planned.typeName, observations.Input{
			FieldName:    planned.item.FieldName,
			Value:        planned.item.Value,
			SourceID:     planned.item.SourceID,
			IsCorrection: planned.item.IsCorrection,
			ObservedAt:   planned.item.ObservedAt,
		})
		if err != nil {
			return nil, nil, nil, nil, withIndex(err, i)
		}
		appended = append(appended, *obs)
		result.Observations = append(result.Observations, models.BatchItemResult{Index: i, ID: obs.ID, Status: models.BatchItemCreated})
	}

	return result, createdEntities, createdRelationships, appended, nil
}

func entityCandidates(bt *batch, ref string) []models.CandidateObservation {
	var out []models.CandidateObservation
	for _, obs := range bt.req.Observations {
		if obs.SubjectKind == models.SubjectKindEntity && obs.Subject == models.RefPrefix+ref {
			out = append(out, models.CandidateObservation{
				FieldName:    obs.FieldName,
				Value:        obs.Value,
				SourceID:     obs.SourceID,
				IsCorrection: obs.IsCorrection,
			})
		}
	}
	return out
}

// terminal follows merged_into from id, share-locking each row.
func (b *Builder) terminal(ctx context.Context, owner, id string) (*models.Entity, error) {
	current, err := b.entities.GetForShare(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	for hops := 0; current.MergedInto != nil; hops++ {
		if hops >= 64 {
			return nil, apperror.Newf(apperror.CodeMergeCycle, "merge chain from %s does not terminate", id).WithSubject(kindEntity, id)
		}
		current, err = b.entities.GetForShare(ctx, owner, *current.MergedInto)
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
