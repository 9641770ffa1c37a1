package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	upsertEntityCypher = `
		MERGE (e:Entity {id: $id, owner: $owner})
		SET e.type = $type, e.name = $name`

	upsertRelationshipCypher = `
		MERGE (s:Entity {id: $source_id, owner: $owner})
		MERGE (t:Entity {id: $target_id, owner: $owner})
		MERGE (s)-[r:REL {id: $id}]->(t)
		SET r.type = $type`

	// edges are recreated on the target because Cypher cannot re-home a relationship
	mergeOutgoingCypher = `
		MATCH (d:Entity {id: $duplicate_id, owner: $owner})-[r:REL]->(other)
		MERGE (t:Entity {id: $target_id, owner: $owner})
		MERGE (t)-[n:REL {id: r.id}]->(other)
		SET n.type = r.type, n.deleted_at = r.deleted_at
		DELETE r`

	mergeIncomingCypher = `
		MATCH (other)-[r:REL]->(d:Entity {id: $duplicate_id, owner: $owner})
		MERGE (t:Entity {id: $target_id, owner: $owner})
		MERGE (other)-[n:REL {id: r.id}]->(t)
		SET n.type = r.type, n.deleted_at = r.deleted_at
		DELETE r`

	markMergedCypher = `
		MATCH (d:Entity {id: $duplicate_id, owner: $owner})
		SET d.merged_into = $target_id`

	deleteEntityCypher = `
		MATCH (e:Entity {id: $id, owner: $owner})
		SET e.deleted_at = datetime()`

	restoreEntityCypher = `
		MATCH (e:Entity {id: $id, owner: $owner})
		REMOVE e.deleted_at`

	deleteRelationshipCypher = `
		MATCH (:Entity {owner: $owner})-[r:REL {id: $id}]->()
		SET r.deleted_at = datetime()`

	restoreRelationshipCypher = `
		MATCH (:Entity {owner: $owner})-[r:REL {id: $id}]->()
		REMOVE r.deleted_at`
)

type statement struct {
	cypher string
	params map[string]any
}

// Projector is an events.Emitter that keeps the graph mirror in step with
// committed changes. Observation events carry nothing the mirror stores.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{
		writer: writer,
		logger: logger,
	}
}

func (p *Projector) Emit(ctx context.Context, evs ...events.Event) error {
	ctx, span := tracing.StartSpan(ctx, "projection.Projector.Emit")
	defer span.End()

	var errs []error
	for _, ev := range evs {
		stmts, err := statements(ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(stmts) == 0 {
			continue
		}

		status := "success"
		for _, stmt := range stmts {
			if err := p.writer.Write(ctx, stmt.cypher, stmt.params); err != nil {
				p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"event_id":   ev.ID,
					"event_type": ev.Type,
					"subject_id": ev.SubjectID,
				}).Error("Failed to project event")
				errs = append(errs, fmt.Errorf("project %s %s: %w", ev.Type, ev.SubjectID, err))
				status = "error"
				break
			}
		}
		metrics.EventsEmitted.WithLabelValues("graph", string(ev.Type), status).Inc()
	}

	return errors.Join(errs...)
}

func statements(ev events.Event) ([]statement, error) {
	switch ev.Type {
	case events.EventTypeEntityCreated:
		var payload events.EntityPayload
		if err := ev.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		return []statement{{upsertEntityCypher, map[string]any{
			"id":    ev.SubjectID,
			"owner": ev.Owner,
			"type":  payload.EntityType,
			"name":  payload.CanonicalName,
		}}}, nil

	case events.EventTypeRelationshipCreated:
		var payload events.RelationshipPayload
		if err := ev.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		return []statement{{upsertRelationshipCypher, map[string]any{
			"id":        ev.SubjectID,
			"owner":     ev.Owner,
			"source_id": payload.SourceEntityID,
			"target_id": payload.TargetEntityID,
			"type":      string(payload.RelationshipType),
		}}}, nil

	case events.EventTypeEntityMerged:
		var payload events.MergePayload
		if err := ev.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		params := map[string]any{
			"owner":        ev.Owner,
			"duplicate_id": payload.DuplicateID,
			"target_id":    payload.TargetID,
		}
		return []statement{
			{mergeOutgoingCypher, params},
			{mergeIncomingCypher, params},
			{markMergedCypher, params},
		}, nil

	case events.EventTypeSubjectDeleted, events.EventTypeSubjectRestored:
		params := map[string]any{"id": ev.SubjectID, "owner": ev.Owner}
		deleted := ev.Type == events.EventTypeSubjectDeleted
		switch {
		case ev.SubjectKind == models.SubjectKindEntity && deleted:
			return []statement{{deleteEntityCypher, params}}, nil
		case ev.SubjectKind == models.SubjectKindEntity:
			return []statement{{restoreEntityCypher, params}}, nil
		case deleted:
			return []statement{{deleteRelationshipCypher, params}}, nil
		default:
			return []statement{{restoreRelationshipCypher, params}}, nil
		}
	}

	return nil, nil
}
