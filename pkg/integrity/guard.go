// Package integrity enforces acyclicity of the configured relationship types.
package integrity

import (
	"context"

	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/cycles"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultAcyclicTypes are the relationship types that may never form a cycle
// unless configuration says otherwise.
var DefaultAcyclicTypes = []models.RelationshipType{models.RelationshipPartOf, models.RelationshipDependsOn}

// Edge is a proposed relationship that is not yet stored.
type Edge struct {
	ID     string
	Source string
	Target string
	Type   models.RelationshipType
}

// Guard checks proposed changes against the stored acyclic-type edges of an owner.
type Guard struct {
	relationships *relationship.Repository
	acyclic       []models.RelationshipType
	acyclicSet    map[models.RelationshipType]bool
}

func NewGuard(relationships *relationship.Repository, acyclicTypes []models.RelationshipType) *Guard {
	if acyclicTypes == nil {
		acyclicTypes = DefaultAcyclicTypes
	}
	set := make(map[models.RelationshipType]bool, len(acyclicTypes))
	for _, t := range acyclicTypes {
		set[t] = true
	}
	return &Guard{
		relationships: relationships,
		acyclic:       acyclicTypes,
		acyclicSet:    set,
	}
}

// Types returns the relationship types that must stay acyclic.
func (g *Guard) Types() []models.RelationshipType {
	return g.acyclic
}

func (g *Guard) IsAcyclic(t models.RelationshipType) bool {
	return g.acyclicSet[t]
}

// Change describes a proposed write. Stored edges in Excluded are ignored,
// Redirect maps entity ids onto the id they will become, and Added edges are
// checked together with what is stored.
type Change struct {
	Added    []Edge
	Excluded map[string]bool
	Redirect map[string]string
}

// FindCycle returns the first cycle among acyclic-type edges that the change
// would produce, as a closed path of entity ids, or nil.
func (g *Guard) FindCycle(ctx context.Context, owner string, change Change) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "integrity.Guard.FindCycle")
	defer span.End()

	stored, err := g.relationships.ListActiveByTypes(ctx, owner, g.acyclic)
	if err != nil {
		return nil, err
	}

	redirect := func(id string) string {
		if to, ok := change.Redirect[id]; ok {
			return to
		}
		return id
	}

	// acyclicity is per type: part_of and depends_on edges never combine into one cycle
	graphs := make(map[models.RelationshipType]*cycles.Graph, len(g.acyclic))
	add := func(t models.RelationshipType, from, to string) {
		if !g.acyclicSet[t] {
			return
		}
		if graphs[t] == nil {
			graphs[t] = cycles.New()
		}
		graphs[t].AddEdge(redirect(from), redirect(to))
	}

	for _, rel := range stored {
		if change.Excluded[rel.ID] {
			continue
		}
		add(rel.RelationshipType, rel.SourceEntityID, rel.TargetEntityID)
	}
	for _, e := range change.Added {
		add(e.Type, e.Source, e.Target)
	}

	for _, t := range g.acyclic {
		if graphs[t] == nil {
			continue
		}
		if path := graphs[t].FindCycle(); path != nil {
			return path, nil
		}
	}
	return nil, nil
}

// Check is FindCycle returning GRAPH_INTEGRITY_VIOLATION against kind/id when a cycle exists.
func (g *Guard) Check(ctx context.Context, owner string, change Change, kind models.SubjectKind, id string) error {
	path, err := g.FindCycle(ctx, owner, change)
	if err != nil {
		return err
	}
	if path != nil {
		return apperror.IntegrityViolation(string(kind), id, "change would create a cycle: %s", cycles.FormatPath(path))
	}
	return nil
}
