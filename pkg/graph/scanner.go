package graph

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/cycles"
	"github.com/Ramsey-B/fern/pkg/integrity"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Scanner re-verifies the stored graph. It never writes.
type Scanner struct {
	entities      *entity.Repository
	relationships *relationship.Repository
	guard         *integrity.Guard
	logger        ectologger.Logger
}

func NewScanner(entities *entity.Repository, relationships *relationship.Repository, guard *integrity.Guard, logger ectologger.Logger) *Scanner {
	return &Scanner{
		entities:      entities,
		relationships: relationships,
		guard:         guard,
		logger:        logger,
	}
}

// Scan counts dangling relationships and cycles among acyclic relationship
// types. An empty owner scans every owner and exports the counts as gauges.
// Soft-deleted entities are not dangling endpoints; soft-deleted
// relationships are ignored.
func (s *Scanner) Scan(ctx context.Context, owner string) (_ *models.IntegrityReport, err error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Scanner.Scan")
	defer span.End()
	defer metrics.RecordOperation("integrity_scan", time.Now(), &err)

	entities, err := s.entities.ListAll(ctx, owner)
	if err != nil {
		return nil, err
	}
	relationships, err := s.relationships.ListAll(ctx, owner)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Entity, len(entities))
	for i := range entities {
		byID[entities[i].ID] = &entities[i]
	}

	report := &models.IntegrityReport{
		CheckedAt: time.Now().UTC(),
		Owner:     owner,
		Dangling:  []models.DanglingRelationship{},
		Cycles:    [][]string{},
	}

	// owner → type → graph
	graphs := map[string]map[models.RelationshipType]*cycles.Graph{}
	for _, rel := range relationships {
		if rel.IsDeleted() {
			continue
		}
		report.RelationshipCount++

		source, sourceOK := terminal(byID, rel.Owner, rel.SourceEntityID)
		target, targetOK := terminal(byID, rel.Owner, rel.TargetEntityID)
		if !sourceOK {
			report.Dangling = append(report.Dangling, models.DanglingRelationship{RelationshipID: rel.ID, Owner: rel.Owner, Endpoint: "source", EntityID: rel.SourceEntityID})
		}
		if !targetOK {
			report.Dangling = append(report.Dangling, models.DanglingRelationship{RelationshipID: rel.ID, Owner: rel.Owner, Endpoint: "target", EntityID: rel.TargetEntityID})
		}
		if !sourceOK || !targetOK || !s.guard.IsAcyclic(rel.RelationshipType) {
			continue
		}

		if graphs[rel.Owner] == nil {
			graphs[rel.Owner] = map[models.RelationshipType]*cycles.Graph{}
		}
		g := graphs[rel.Owner][rel.RelationshipType]
		if g == nil {
			g = cycles.New()
			graphs[rel.Owner][rel.RelationshipType] = g
		}
		g.AddEdge(source, target)
	}

	owners := make([]string, 0, len(graphs))
	for o := range graphs {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	for _, o := range owners {
		for _, t := range s.guard.Types() {
			if g := graphs[o][t]; g != nil {
				report.Cycles = append(report.Cycles, g.Cycles()...)
			}
		}
	}

	report.DanglingCount = len(report.Dangling)
	report.CycleCount = len(report.Cycles)

	if owner == "" {
		metrics.RecordIntegrityScan(report.DanglingCount, report.CycleCount, report.CheckedAt)
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"owner":         owner,
		"relationships": report.RelationshipCount,
		"dangling":      report.DanglingCount,
		"cycles":        report.CycleCount,
	})
	if report.OK() {
		log.Debug("Integrity scan passed")
	} else {
		log.Warn("Integrity scan found violations")
	}

	return report, nil
}

// terminal follows merge redirects in the loaded rows. A missing row, a row of
// another owner, or a redirect loop makes the endpoint dangling.
func terminal(byID map[string]*models.Entity, owner, id string) (string, bool) {
	seen := map[string]bool{}
	for {
		e, ok := byID[id]
		if !ok || e.Owner != owner || seen[id] {
			return "", false
		}
		if e.MergedInto == nil {
			return e.ID, true
		}
		seen[id] = true
		id = *e.MergedInto
	}
}
