package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

func TestValidateObservation(t *testing.T) {
	s := &models.Schema{
		SubjectKind: models.SubjectKindEntity,
		TypeName:    "person",
		Fields: database.NewJSONB(map[string]models.FieldDefinition{
			"email":    {Type: models.FieldTypeString, Reducer: models.ReducerLatest, Format: "email"},
			"age":      {Type: models.FieldTypeInteger, Reducer: models.ReducerLatest},
			"balance":  {Type: models.FieldTypeNumber, Reducer: models.ReducerSum},
			"aliases":  {Type: models.FieldTypeString, Reducer: models.ReducerSet},
			"born":     {Type: models.FieldTypeDate, Reducer: models.ReducerLatest},
			"seen_at":  {Type: models.FieldTypeDateTime, Reducer: models.ReducerAppend},
			"active":   {Type: models.FieldTypeBoolean, Reducer: models.ReducerLatest},
			"address":  {Type: models.FieldTypeObject, Reducer: models.ReducerLatest},
			"payload":  {Type: models.FieldTypeAny, Reducer: models.ReducerLatest},
			"children": {Type: models.FieldTypeArray, Reducer: models.ReducerLatest},
		}),
	}

	tests := []struct {
		name         string
		field        string
		value        string
		isCorrection bool
		wantErr      bool
	}{
		{name: "valid email", field: "email", value: `"a@example.com"`},
		{name: "bad email format", field: "email", value: `"nope"`, wantErr: true},
		{name: "string for integer", field: "age", value: `"41"`, wantErr: true},
		{name: "fraction for integer", field: "age", value: `41.5`, wantErr: true},
		{name: "integer", field: "age", value: `41`},
		{name: "number", field: "balance", value: `12.75`},
		{name: "boolean", field: "active", value: `true`},
		{name: "object", field: "address", value: `{"city":"Oslo"}`},
		{name: "array", field: "children", value: `["a"]`},
		{name: "date", field: "born", value: `"1990-04-01"`},
		{name: "bad date", field: "born", value: `"01/04/1990"`, wantErr: true},
		{name: "datetime", field: "seen_at", value: `"2024-01-02T03:04:05Z"`},
		{name: "any accepts null", field: "payload", value: `null`},
		{name: "unknown field", field: "nickname", value: `"x"`, wantErr: true},
		{name: "tombstone correction on set", field: "aliases", value: `{"$tombstone":"Bob"}`, isCorrection: true},
		{name: "tombstone without correction", field: "aliases", value: `{"$tombstone":"Bob"}`, wantErr: true},
		{name: "tombstone on latest field", field: "email", value: `{"$tombstone":"a@example.com"}`, isCorrection: true, wantErr: true},
		{name: "tombstone with wrong inner type", field: "aliases", value: `{"$tombstone":7}`, isCorrection: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.ValidateObservation(s, tt.field, json.RawMessage(tt.value), tt.isCorrection)
			if tt.wantErr {
				assert.Equal(t, apperror.CodeSchemaViolation, apperror.CodeOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateObservation_DefaultSchemaAcceptsAnything(t *testing.T) {
	s := models.DefaultSchema(models.SubjectKindEntity, "thing")
	assert.NoError(t, schema.ValidateObservation(s, "whatever", json.RawMessage(`{"nested":[1,2]}`), false))
}

func TestValidateRequired(t *testing.T) {
	s := &models.Schema{
		Fields: database.NewJSONB(map[string]models.FieldDefinition{
			"name":  {Type: models.FieldTypeString, Reducer: models.ReducerLatest, Required: true},
			"email": {Type: models.FieldTypeString, Reducer: models.ReducerLatest},
		}),
	}

	assert.NoError(t, schema.ValidateRequired(s, map[string]bool{"name": true}))
	err := schema.ValidateRequired(s, map[string]bool{"email": true})
	assert.Equal(t, apperror.CodeSchemaViolation, apperror.CodeOf(err))
}
