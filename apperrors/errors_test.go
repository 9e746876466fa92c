package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("gone")))
	assert.Equal(t, KindAlreadySigned, KindOf(AlreadySigned()))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", Forbidden("not yours"))
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFieldsOf(t *testing.T) {
	err := Validation(map[string]string{"title": "title is required"})
	assert.Equal(t, map[string]string{"title": "title is required"}, FieldsOf(err))
	assert.Nil(t, FieldsOf(errors.New("plain")))
}
