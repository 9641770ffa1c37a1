// Package app assembles the repositories and domain services over one database.
package app

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/auditlog"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/observation"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	schemarepo "github.com/Ramsey-B/fern/internal/repositories/schema"
	"github.com/Ramsey-B/fern/internal/repositories/source"
	"github.com/Ramsey-B/fern/pkg/blob"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/integrity"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observations"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/snapshot"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/traversal"
)

// Options carries the pluggable adapters. Zero values fall back to the
// defaults: no events, no snapshot cache and the standard acyclic types.
type Options struct {
	Blob         blob.Store
	Cache        snapshot.Cache
	Emitter      events.Emitter
	AcyclicTypes []models.RelationshipType
}

type Services struct {
	DB     database.DB
	Logger ectologger.Logger

	Entities      *entity.Repository
	Relationships *relationship.Repository
	Observations  *observation.Repository
	Audit         *auditlog.Repository

	Schemas    *schema.Registry
	Sources    *sources.Service
	Snapshots  *snapshot.Service
	Appender   *observations.Service
	Resolution *resolution.Service
	Builder    *graph.Builder
	Scanner    *graph.Scanner
	Traversal  *traversal.Service
	Lifecycle  *lifecycle.Service
	Guard      *integrity.Guard
}

func NewServices(db database.DB, logger ectologger.Logger, opts Options) *Services {
	entities := entity.NewRepository(db, logger)
	relationships := relationship.NewRepository(db, logger)
	observationRepo := observation.NewRepository(db, logger)
	sourceRepo := source.NewRepository(db, logger)
	audit := auditlog.NewRepository(db, logger)

	schemas := schema.NewRegistry(schemarepo.NewRepository(db, logger), logger)
	guard := integrity.NewGuard(relationships, opts.AcyclicTypes)
	snapshots := snapshot.NewService(entities, relationships, observationRepo, schemas, opts.Cache, logger)
	appender := observations.NewService(db, observationRepo, entities, relationships, sourceRepo, schemas, snapshots, opts.Emitter, logger)

	s := &Services{
		DB:            db,
		Logger:        logger,
		Entities:      entities,
		Relationships: relationships,
		Observations:  observationRepo,
		Audit:         audit,
		Schemas:       schemas,
		Snapshots:     snapshots,
		Appender:      appender,
		Guard:         guard,
		Resolution:    resolution.NewService(db, entities, relationships, observationRepo, appender, audit, schemas, snapshots, guard, opts.Emitter, logger),
		Builder:       graph.NewBuilder(db, entities, relationships, appender, schemas, guard, opts.Emitter, logger),
		Scanner:       graph.NewScanner(entities, relationships, guard, logger),
		Traversal:     traversal.NewService(entities, relationships, logger),
		Lifecycle:     lifecycle.NewService(db, entities, relationships, audit, guard, snapshots, opts.Emitter, logger),
	}
	if opts.Blob != nil {
		s.Sources = sources.NewService(sourceRepo, opts.Blob, logger)
	}
	return s
}
