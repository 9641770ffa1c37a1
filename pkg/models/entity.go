package models

import (
	"encoding/json"
	"time"
)

// SubjectKind distinguishes what an observation or lifecycle action applies to.
type SubjectKind string

const (
	SubjectKindEntity       SubjectKind = "entity"
	SubjectKindRelationship SubjectKind = "relationship"
)

func (k SubjectKind) IsValid() bool {
	return k == SubjectKindEntity || k == SubjectKindRelationship
}

// EntityState is exactly one of active, deleted or merged.
type EntityState string

const (
	EntityStateActive  EntityState = "active"
	EntityStateDeleted EntityState = "deleted"
	EntityStateMerged  EntityState = "merged"
)

type Entity struct {
	ID            string     `json:"id" db:"id"`
	Owner         string     `json:"owner" db:"owner"`
	EntityType    string     `json:"entity_type" db:"entity_type"`
	CanonicalName string     `json:"canonical_name" db:"canonical_name"`
	IdentityKey   string     `json:"-" db:"identity_key"`
	MergedInto    *string    `json:"merged_into,omitempty" db:"merged_into"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedReason *string    `json:"deleted_reason,omitempty" db:"deleted_reason"`
	Version       int        `json:"version" db:"version"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// State derives the tagged-union state. Merge wins over deletion.
func (e *Entity) State() EntityState {
	switch {
	case e.MergedInto != nil:
		return EntityStateMerged
	case e.DeletedAt != nil:
		return EntityStateDeleted
	default:
		return EntityStateActive
	}
}

func (e *Entity) IsActive() bool {
	return e.State() == EntityStateActive
}

// CandidateObservation is a field value offered alongside an entity during resolution.
type CandidateObservation struct {
	FieldName    string          `json:"field_name" validate:"required"`
	Value        json.RawMessage `json:"value" validate:"required"`
	SourceID     string          `json:"source_id" validate:"required"`
	IsCorrection bool            `json:"is_correction"`
	ObservedAt   *time.Time      `json:"observed_at,omitempty"`
}

type ResolveRequest struct {
	EntityType    string                 `json:"entity_type" validate:"required"`
	CanonicalName string                 `json:"canonical_name" validate:"required"`
	Observations  []CandidateObservation `json:"observations" validate:"dive"`
}

type ResolveResult struct {
	Entity       Entity        `json:"entity"`
	Created      bool          `json:"created"`
	Observations []Observation `json:"observations"`
}

type MergeRequest struct {
	TargetID string `json:"target_id" validate:"required"`
	Reason   string `json:"reason"`
}

type MergeResult struct {
	TargetID               string `json:"target_id"`
	DuplicateID            string `json:"duplicate_id"`
	ObservationsMoved      int64  `json:"observations_moved"`
	RelationshipsRepointed int64  `json:"relationships_repointed"`
	AlreadyMerged          bool   `json:"already_merged"`
}
