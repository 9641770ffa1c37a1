package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/internal/database"
)

// TombstoneKey marks a correction value that removes an element from a set field.
const TombstoneKey = "$tombstone"

// Observation is an immutable, source-attributed fact about one field of one subject.
type Observation struct {
	ID                string                          `json:"id" db:"id"`
	Owner             string                          `json:"owner" db:"owner"`
	SubjectID         string                          `json:"subject_id" db:"subject_id"`
	OriginalSubjectID string                          `json:"original_subject_id" db:"original_subject_id"`
	SubjectKind       SubjectKind                     `json:"subject_kind" db:"subject_kind"`
	FieldName         string                          `json:"field_name" db:"field_name"`
	Value             database.JSONB[json.RawMessage] `json:"value" db:"value"`
	SourceID          string                          `json:"source_id" db:"source_id"`
	IsCorrection      bool                            `json:"is_correction" db:"is_correction"`
	CreatedAt         time.Time                       `json:"created_at" db:"created_at"`
}

type AppendRequest struct {
	SubjectID    string          `json:"subject_id" validate:"required"`
	SubjectKind  SubjectKind     `json:"subject_kind" validate:"required,oneof=entity relationship"`
	FieldName    string          `json:"field_name" validate:"required"`
	Value        json.RawMessage `json:"value" validate:"required"`
	SourceID     string          `json:"source_id" validate:"required"`
	IsCorrection bool            `json:"is_correction"`
	ObservedAt   *time.Time      `json:"observed_at,omitempty"`
}

type CorrectionRequest struct {
	SubjectID   string          `json:"subject_id" validate:"required"`
	SubjectKind SubjectKind     `json:"subject_kind" validate:"required,oneof=entity relationship"`
	FieldName   string          `json:"field_name" validate:"required"`
	Value       json.RawMessage `json:"value" validate:"required"`
	SourceID    string          `json:"source_id" validate:"required"`
	ObservedAt  *time.Time      `json:"observed_at,omitempty"`
}

// Tombstone wraps value so that a correction removes it from a set field.
func Tombstone(value any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{TombstoneKey: value})
}

// ParseTombstone returns the removed value when raw is a tombstone marker.
func ParseTombstone(raw json.RawMessage) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil || len(wrapper) != 1 {
		return nil, false
	}
	inner, ok := wrapper[TombstoneKey]
	return inner, ok
}
