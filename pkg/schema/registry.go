// Package schema resolves and validates per-type field definitions.
package schema

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	schemarepo "github.com/Ramsey-B/fern/internal/repositories/schema"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/validation"
)

// GlobalOwner is the owner value of schemas shared by every owner.
const GlobalOwner = ""

// Registry resolves the effective schema for a subject type.
type Registry struct {
	repo   *schemarepo.Repository
	logger ectologger.Logger
}

func NewRegistry(repo *schemarepo.Repository, logger ectologger.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
	}
}

// Get returns the owner's schema, else the global one, else a permissive default.
func (r *Registry) Get(ctx context.Context, owner string, kind models.SubjectKind, typeName string) (*models.Schema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.Registry.Get")
	defer span.End()

	owners := []string{owner}
	if owner != GlobalOwner {
		owners = append(owners, GlobalOwner)
	}

	for _, o := range owners {
		s, err := r.repo.Get(ctx, o, kind, typeName)
		if err == nil {
			return s, nil
		}
		if !apperror.Is(err, apperror.CodeNotFound) {
			return nil, err
		}
	}

	return models.DefaultSchema(kind, typeName), nil
}

// Upsert validates and stores a schema for owner ("" for global).
func (r *Registry) Upsert(ctx context.Context, owner string, kind models.SubjectKind, typeName string, req models.UpsertSchemaRequest) (*models.Schema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.Registry.Upsert")
	defer span.End()

	if !kind.IsValid() {
		return nil, apperror.InvalidArgument("unknown subject kind %q", kind)
	}
	if typeName == "" {
		return nil, apperror.InvalidArgument("type name is required")
	}
	if kind == models.SubjectKindRelationship && !models.RelationshipType(typeName).IsValid() {
		return nil, apperror.InvalidArgument("unknown relationship type %q", typeName)
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := checkDefinitions(kind, req); err != nil {
		return nil, err
	}

	identity := append([]string{}, req.IdentityFields...)
	sort.Strings(identity)
	fields := req.Fields
	if fields == nil {
		fields = map[string]models.FieldDefinition{}
	}

	stored, err := r.repo.Upsert(ctx, &models.Schema{
		Owner:              owner,
		SubjectKind:        kind,
		TypeName:           typeName,
		Fields:             database.NewJSONB(fields),
		AllowUnknownFields: req.AllowUnknownFields,
		IdentityFields:     database.NewJSONB(identity),
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner":        owner,
		"subject_kind": kind,
		"type_name":    typeName,
		"version":      stored.Version,
	}).Info("Schema upserted")

	return stored, nil
}

// List returns the schemas stored directly under owner.
func (r *Registry) List(ctx context.Context, owner string) ([]models.Schema, error) {
	return r.repo.List(ctx, owner)
}

func checkDefinitions(kind models.SubjectKind, req models.UpsertSchemaRequest) error {
	names := make([]string, 0, len(req.Fields))
	for name := range req.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := req.Fields[name]
		if def.Reducer == models.ReducerSum && def.Type != models.FieldTypeNumber && def.Type != models.FieldTypeInteger {
			return apperror.SchemaViolation(name, "sum reducer requires a number or integer field, got %s", def.Type)
		}
		if def.Format != "" && def.Type != models.FieldTypeString {
			return apperror.SchemaViolation(name, "format is only supported on string fields")
		}
	}

	if len(req.IdentityFields) > 0 && kind != models.SubjectKindEntity {
		return apperror.InvalidArgument("identity fields are only supported on entity schemas")
	}
	for _, name := range req.IdentityFields {
		def, ok := req.Fields[name]
		if !ok {
			return apperror.SchemaViolation(name, "identity field is not declared")
		}
		if def.Reducer != models.ReducerLatest {
			return apperror.SchemaViolation(name, "identity fields must use the latest reducer")
		}
	}
	return nil
}
