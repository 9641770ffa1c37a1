package schema

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/validation"
)

// ValidateObservation checks one observation value against s. Tombstones are
// only accepted as corrections of set fields.
func ValidateObservation(s *models.Schema, field string, raw json.RawMessage, isCorrection bool) error {
	def, ok := s.Field(field)
	if !ok {
		return apperror.SchemaViolation(field, "field is not declared on %s %s", s.SubjectKind, s.TypeName)
	}

	if inner, isTombstone := models.ParseTombstone(raw); isTombstone {
		if !isCorrection || def.Reducer != models.ReducerSet {
			return apperror.SchemaViolation(field, "tombstones are only valid as corrections of set fields")
		}
		raw = inner
	}

	if def.Reducer == models.ReducerSum && def.Type == models.FieldTypeAny {
		def.Type = models.FieldTypeNumber
	}

	return ValidateValue(field, def, raw)
}

// ValidateValue checks raw against the type and format of def.
func ValidateValue(field string, def models.FieldDefinition, raw json.RawMessage) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return apperror.SchemaViolation(field, "value is not valid JSON")
	}
	if decoder.More() {
		return apperror.SchemaViolation(field, "value must be a single JSON document")
	}

	switch def.Type {
	case models.FieldTypeAny, "":
		return nil
	case models.FieldTypeString:
		s, ok := value.(string)
		if !ok {
			return typeMismatch(field, def.Type, value)
		}
		if def.Format != "" {
			if err := validation.Var(s, def.Format); err != nil {
				return apperror.SchemaViolation(field, "value %q does not match format %s", s, def.Format)
			}
		}
	case models.FieldTypeNumber:
		if _, ok := value.(json.Number); !ok {
			return typeMismatch(field, def.Type, value)
		}
	case models.FieldTypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			return typeMismatch(field, def.Type, value)
		}
		if _, err := n.Int64(); err != nil {
			return apperror.SchemaViolation(field, "value %s is not an integer", n)
		}
	case models.FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeMismatch(field, def.Type, value)
		}
	case models.FieldTypeObject:
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(field, def.Type, value)
		}
	case models.FieldTypeArray:
		if _, ok := value.([]any); !ok {
			return typeMismatch(field, def.Type, value)
		}
	case models.FieldTypeDate:
		s, ok := value.(string)
		if !ok {
			return typeMismatch(field, def.Type, value)
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return apperror.SchemaViolation(field, "value %q is not a date (YYYY-MM-DD)", s)
		}
	case models.FieldTypeDateTime:
		s, ok := value.(string)
		if !ok {
			return typeMismatch(field, def.Type, value)
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return apperror.SchemaViolation(field, "value %q is not an RFC 3339 timestamp", s)
		}
	default:
		return apperror.SchemaViolation(field, "unknown field type %s", def.Type)
	}

	return nil
}

// ValidateRequired reports the first required field of s missing from present.
func ValidateRequired(s *models.Schema, present map[string]bool) error {
	for _, name := range s.RequiredFields() {
		if !present[name] {
			return apperror.SchemaViolation(name, "required field is missing")
		}
	}
	return nil
}

func typeMismatch(field string, want models.FieldType, value any) error {
	return apperror.SchemaViolation(field, "expected %s, got %s", want, jsonKind(value))
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}
