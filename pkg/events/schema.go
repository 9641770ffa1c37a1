package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated       EventType = "entity.created"
	EventTypeEntityMerged        EventType = "entity.merged"
	EventTypeObservationAppended EventType = "observation.appended"
	EventTypeRelationshipCreated EventType = "relationship.created"
	EventTypeSubjectDeleted      EventType = "subject.deleted"
	EventTypeSubjectRestored     EventType = "subject.restored"
)

// Event is a post-commit change notification. Payload holds one of the
// *Payload types below, encoded as JSON.
type Event struct {
	ID            string             `json:"id"`
	Type          EventType          `json:"type"`
	SchemaVersion string             `json:"schema_version"`
	Owner         string             `json:"owner"`
	SubjectKind   models.SubjectKind `json:"subject_kind"`
	SubjectID     string             `json:"subject_id"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

type EntityPayload struct {
	EntityType    string `json:"entity_type"`
	CanonicalName string `json:"canonical_name"`
}

type RelationshipPayload struct {
	SourceEntityID   string                  `json:"source_entity_id"`
	TargetEntityID   string                  `json:"target_entity_id"`
	RelationshipType models.RelationshipType `json:"relationship_type"`
}

type ObservationPayload struct {
	ObservationID string `json:"observation_id"`
	FieldName     string `json:"field_name"`
	SourceID      string `json:"source_id"`
	IsCorrection  bool   `json:"is_correction"`
}

type MergePayload struct {
	DuplicateID            string `json:"duplicate_id"`
	TargetID               string `json:"target_id"`
	ObservationsMoved      int64  `json:"observations_moved"`
	RelationshipsRepointed int64  `json:"relationships_repointed"`
	Actor                  string `json:"actor,omitempty"`
}

type LifecyclePayload struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

// New builds an event with a time-ordered id. A payload that fails to
// encode is dropped rather than failing the caller.
func New(eventType EventType, owner string, kind models.SubjectKind, subjectID string, payload any) Event {
	ev := Event{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		SchemaVersion: SchemaVersion,
		Owner:         owner,
		SubjectKind:   kind,
		SubjectID:     subjectID,
		OccurredAt:    time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EntityCreated is emitted when resolution or a batch inserts a new entity.
func EntityCreated(e *models.Entity) Event {
	return New(EventTypeEntityCreated, e.Owner, models.SubjectKindEntity, e.ID, EntityPayload{
		EntityType:    e.EntityType,
		CanonicalName: e.CanonicalName,
	})
}

func RelationshipCreated(r *models.Relationship) Event {
	return New(EventTypeRelationshipCreated, r.Owner, models.SubjectKindRelationship, r.ID, RelationshipPayload{
		SourceEntityID:   r.SourceEntityID,
		TargetEntityID:   r.TargetEntityID,
		RelationshipType: r.RelationshipType,
	})
}

func ObservationAppended(o *models.Observation) Event {
	return New(EventTypeObservationAppended, o.Owner, o.SubjectKind, o.SubjectID, ObservationPayload{
		ObservationID: o.ID,
		FieldName:     o.FieldName,
		SourceID:      o.SourceID,
		IsCorrection:  o.IsCorrection,
	})
}

// EntityMerged is keyed by the target so consumers recompute the surviving snapshot.
func EntityMerged(owner string, result *models.MergeResult, actor string) Event {
	return New(EventTypeEntityMerged, owner, models.SubjectKindEntity, result.TargetID, MergePayload{
		DuplicateID:            result.DuplicateID,
		TargetID:               result.TargetID,
		ObservationsMoved:      result.ObservationsMoved,
		RelationshipsRepointed: result.RelationshipsRepointed,
		Actor:                  actor,
	})
}

func SubjectDeleted(owner string, kind models.SubjectKind, id, reason, actor string) Event {
	return New(EventTypeSubjectDeleted, owner, kind, id, LifecyclePayload{Reason: reason, Actor: actor})
}

func SubjectRestored(owner string, kind models.SubjectKind, id, reason, actor string) Event {
	return New(EventTypeSubjectRestored, owner, kind, id, LifecyclePayload{Reason: reason, Actor: actor})
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}
