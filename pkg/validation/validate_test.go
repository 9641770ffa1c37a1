package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestStruct(t *testing.T) {
	err := Struct(models.LifecycleRequest{SubjectKind: models.SubjectKindEntity, SubjectID: "x"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))
	assert.Contains(t, err.Error(), "Reason")

	err = Struct(models.LifecycleRequest{SubjectKind: "planet", SubjectID: "x", Reason: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")

	assert.NoError(t, Struct(models.LifecycleRequest{SubjectKind: models.SubjectKindEntity, SubjectID: "x", Reason: "r"}))
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("ops@example.com", "email"))
	assert.Error(t, Var("not-an-email", "email"))
}
