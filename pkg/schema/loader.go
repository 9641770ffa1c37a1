package schema

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Definition is one schema entry of a YAML seed file.
type Definition struct {
	Owner                      string             `yaml:"owner"`
	SubjectKind                models.SubjectKind `yaml:"subject_kind"`
	TypeName                   string             `yaml:"type_name"`
	models.UpsertSchemaRequest `yaml:",inline"`
}

// File is the top-level shape of a schema seed file:
//
//	schemas:
//	  - subject_kind: entity
//	    type_name: company
//	    identity_fields: [domain]
//	    fields:
//	      domain: {type: string, reducer: latest, format: fqdn, normalizer: lowercase}
type File struct {
	Schemas []Definition `yaml:"schemas"`
}

// LoadFile parses a schema seed file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schema file %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse schema file")
	}
	return &file, nil
}

// Apply upserts every definition in order and returns the stored schemas.
func (r *Registry) Apply(ctx context.Context, file *File) ([]*models.Schema, error) {
	stored := make([]*models.Schema, 0, len(file.Schemas))
	for i, def := range file.Schemas {
		s, err := r.Upsert(ctx, def.Owner, def.SubjectKind, def.TypeName, def.UpsertSchemaRequest)
		if err != nil {
			return stored, errors.Wrapf(err, "schema %d (%s %s)", i, def.SubjectKind, def.TypeName)
		}
		stored = append(stored, s)
	}
	return stored, nil
}
