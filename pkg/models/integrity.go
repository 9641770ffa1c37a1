package models

import "time"

type DanglingRelationship struct {
	RelationshipID string `json:"relationship_id"`
	Owner          string `json:"owner"`
	Endpoint       string `json:"endpoint"`
	EntityID       string `json:"entity_id"`
}

// IntegrityReport is the result of a read-only integrity scan.
type IntegrityReport struct {
	CheckedAt         time.Time              `json:"checked_at"`
	Owner             string                 `json:"owner,omitempty"`
	RelationshipCount int                    `json:"relationship_count"`
	DanglingCount     int                    `json:"dangling_count"`
	CycleCount        int                    `json:"cycle_count"`
	Dangling          []DanglingRelationship `json:"dangling"`
	Cycles            [][]string             `json:"cycles"`
}

func (r *IntegrityReport) OK() bool {
	return r.DanglingCount == 0 && r.CycleCount == 0
}
