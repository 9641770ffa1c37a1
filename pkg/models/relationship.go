package models

import (
	"time"

	"github.com/Ramsey-B/fern/internal/database"
)

// RelationshipType is the closed set of edge types.
type RelationshipType string

const (
	RelationshipWorksAt        RelationshipType = "works_at"
	RelationshipOwns           RelationshipType = "owns"
	RelationshipManages        RelationshipType = "manages"
	RelationshipPartOf         RelationshipType = "part_of"
	RelationshipRelatedTo      RelationshipType = "related_to"
	RelationshipDependsOn      RelationshipType = "depends_on"
	RelationshipReferences     RelationshipType = "references"
	RelationshipTransactedWith RelationshipType = "transacted_with"
)

var RelationshipTypes = []RelationshipType{
	RelationshipWorksAt,
	RelationshipOwns,
	RelationshipManages,
	RelationshipPartOf,
	RelationshipRelatedTo,
	RelationshipDependsOn,
	RelationshipReferences,
	RelationshipTransactedWith,
}

func (t RelationshipType) IsValid() bool {
	for _, known := range RelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Relationship struct {
	ID               string                         `json:"id" db:"id"`
	Owner            string                         `json:"owner" db:"owner"`
	SourceEntityID   string                         `json:"source_entity_id" db:"source_entity_id"`
	TargetEntityID   string                         `json:"target_entity_id" db:"target_entity_id"`
	RelationshipType RelationshipType               `json:"relationship_type" db:"relationship_type"`
	Metadata         database.JSONB[map[string]any] `json:"metadata" db:"metadata"`
	DeletedAt        *time.Time                     `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedReason    *string                        `json:"deleted_reason,omitempty" db:"deleted_reason"`
	CreatedAt        time.Time                      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time                      `json:"updated_at" db:"updated_at"`
}

func (r *Relationship) IsDeleted() bool {
	return r.DeletedAt != nil
}
