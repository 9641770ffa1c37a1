package models

import (
	"time"

	"github.com/Ramsey-B/fern/internal/database"
)

type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeNumber   FieldType = "number"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeObject   FieldType = "object"
	FieldTypeArray    FieldType = "array"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeAny      FieldType = "any"
)

// ReducerType is the per-field strategy for combining observations.
type ReducerType string

const (
	ReducerLatest ReducerType = "latest"
	ReducerSum    ReducerType = "sum"
	ReducerSet    ReducerType = "set"
	ReducerAppend ReducerType = "append"
)

type FieldDefinition struct {
	Type     FieldType   `json:"type" yaml:"type" validate:"required,oneof=string number integer boolean object array date datetime any"`
	Required bool        `json:"required,omitempty" yaml:"required"`
	Reducer  ReducerType `json:"reducer" yaml:"reducer" validate:"required,oneof=latest sum set append"`

	// Format is a validator tag applied to string values, e.g. "email" or "url".
	Format string `json:"format,omitempty" yaml:"format"`

	// Normalizer names the normalizer applied when the field is an identity field.
	Normalizer string `json:"normalizer,omitempty" yaml:"normalizer"`
}

// Schema holds the field definitions for one entity or relationship type.
// Owner "" is the global schema; an owner schema shadows it.
type Schema struct {
	ID                 string                                     `json:"id" db:"id"`
	Owner              string                                     `json:"owner" db:"owner"`
	SubjectKind        SubjectKind                                `json:"subject_kind" db:"subject_kind"`
	TypeName           string                                     `json:"type_name" db:"type_name"`
	Fields             database.JSONB[map[string]FieldDefinition] `json:"fields" db:"fields"`
	AllowUnknownFields bool                                       `json:"allow_unknown_fields" db:"allow_unknown_fields"`
	IdentityFields     database.JSONB[[]string]                   `json:"identity_fields" db:"identity_fields"`
	Version            int                                        `json:"version" db:"version"`
	CreatedAt          time.Time                                  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                                  `json:"updated_at" db:"updated_at"`
}

// DefaultSchema is used when neither an owner nor a global schema exists.
func DefaultSchema(kind SubjectKind, typeName string) *Schema {
	return &Schema{
		SubjectKind:        kind,
		TypeName:           typeName,
		Fields:             database.NewJSONB(map[string]FieldDefinition{}),
		AllowUnknownFields: true,
		IdentityFields:     database.NewJSONB([]string{}),
	}
}

// Field returns the definition for name. Unknown fields fall back to a
// latest/any definition when the schema allows them.
func (s *Schema) Field(name string) (FieldDefinition, bool) {
	if def, ok := s.Fields.Data[name]; ok {
		return def, true
	}
	if s.AllowUnknownFields {
		return FieldDefinition{Type: FieldTypeAny, Reducer: ReducerLatest}, true
	}
	return FieldDefinition{}, false
}

// RequiredFields returns the sorted names of required fields.
func (s *Schema) RequiredFields() []string {
	var names []string
	for name, def := range s.Fields.Data {
		if def.Required {
			names = append(names, name)
		}
	}
	sortStrings(names)
	return names
}

type UpsertSchemaRequest struct {
	Fields             map[string]FieldDefinition `json:"fields" yaml:"fields" validate:"dive"`
	AllowUnknownFields bool                       `json:"allow_unknown_fields" yaml:"allow_unknown_fields"`
	IdentityFields     []string                   `json:"identity_fields" yaml:"identity_fields"`
}
