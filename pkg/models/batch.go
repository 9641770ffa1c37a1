package models

import (
	"encoding/json"
	"strings"
	"time"
)

// RefPrefix marks a batch-local handle, e.g. "ref:acme".
const RefPrefix = "ref:"

// IsRef reports whether handle names an item declared in the same batch.
func IsRef(handle string) bool {
	return strings.HasPrefix(handle, RefPrefix)
}

func RefName(handle string) string {
	return strings.TrimPrefix(handle, RefPrefix)
}

type BatchEntity struct {
	Ref           string `json:"ref" validate:"required"`
	EntityType    string `json:"entity_type" validate:"required"`
	CanonicalName string `json:"canonical_name" validate:"required"`
}

type BatchRelationship struct {
	Ref              string           `json:"ref,omitempty"`
	Source           string           `json:"source" validate:"required"`
	Target           string           `json:"target" validate:"required"`
	RelationshipType RelationshipType `json:"relationship_type" validate:"required"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

type BatchObservation struct {
	Subject      string          `json:"subject" validate:"required"`
	SubjectKind  SubjectKind     `json:"subject_kind" validate:"required,oneof=entity relationship"`
	FieldName    string          `json:"field_name" validate:"required"`
	Value        json.RawMessage `json:"value" validate:"required"`
	SourceID     string          `json:"source_id" validate:"required"`
	IsCorrection bool            `json:"is_correction"`
	ObservedAt   *time.Time      `json:"observed_at,omitempty"`
}

type BatchRequest struct {
	Entities      []BatchEntity       `json:"entities" validate:"dive"`
	Relationships []BatchRelationship `json:"relationships" validate:"dive"`
	Observations  []BatchObservation  `json:"observations" validate:"dive"`
}

type BatchItemStatus string

const (
	BatchItemCreated  BatchItemStatus = "created"
	BatchItemExisting BatchItemStatus = "existing"
)

type BatchItemResult struct {
	Index  int             `json:"index"`
	Ref    string          `json:"ref,omitempty"`
	ID     string          `json:"id"`
	Status BatchItemStatus `json:"status"`
}

// BatchResult is only returned when the whole batch committed.
type BatchResult struct {
	Entities      []BatchItemResult `json:"entities"`
	Relationships []BatchItemResult `json:"relationships"`
	Observations  []BatchItemResult `json:"observations"`
}
