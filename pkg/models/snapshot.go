package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Snapshot is the reduced current state of one subject. It carries no
// wall-clock values so that equal inputs marshal to equal bytes.
type Snapshot struct {
	SubjectID        string                     `json:"subject_id"`
	SubjectKind      SubjectKind                `json:"subject_kind"`
	Type             string                     `json:"type"`
	SchemaVersion    int                        `json:"schema_version"`
	Fields           map[string]any             `json:"fields"`
	Provenance       map[string]FieldProvenance `json:"provenance"`
	ObservationCount int                        `json:"observation_count"`
}

type FieldProvenance struct {
	Reducer        ReducerType `json:"reducer"`
	ObservationIDs []string    `json:"observation_ids"`
	SourceIDs      []string    `json:"source_ids"`
	Corrected      bool        `json:"corrected"`
}

// AppendEntry is one element of an append-reduced field. Fields are declared
// in json key order so a decoded copy re-encodes to the same bytes.
type AppendEntry struct {
	CreatedAt     time.Time `json:"created_at"`
	IsCorrection  bool      `json:"is_correction"`
	ObservationID string    `json:"observation_id"`
	SourceID      string    `json:"source_id"`
	Value         any       `json:"value"`
}

// Canonical returns the deterministic JSON encoding of the snapshot.
func (s *Snapshot) Canonical() ([]byte, error) {
	return json.Marshal(s)
}

func sortStrings(values []string) {
	sort.Strings(values)
}
