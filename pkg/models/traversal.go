package models

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionBoth     Direction = "both"
)

func (d Direction) IsValid() bool {
	return d == DirectionOutbound || d == DirectionInbound || d == DirectionBoth
}

type RelatedQuery struct {
	EntityID         string           `json:"entity_id" validate:"required"`
	Direction        Direction        `json:"direction"`
	RelationshipType RelationshipType `json:"relationship_type,omitempty"`
	Limit            int              `json:"limit"`
	Offset           int              `json:"offset"`
	IncludeDeleted   bool             `json:"include_deleted"`
}

type NeighborhoodQuery struct {
	EntityID          string             `json:"entity_id" validate:"required"`
	MaxHops           int                `json:"max_hops"`
	EntityTypes       []string           `json:"entity_types,omitempty"`
	RelationshipTypes []RelationshipType `json:"relationship_types,omitempty"`
}

// Neighborhood lists entities in BFS discovery order with their hop distance.
type Neighborhood struct {
	SeedID        string         `json:"seed_id"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Hops          map[string]int `json:"hops"`
}
