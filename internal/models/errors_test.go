package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("source_app", "is required")
	assert.Equal(t, "source_app: is required", err.Error())
	assert.True(t, IsValidationError(err))
	assert.True(t, IsValidationError(fmt.Errorf("rejected: %w", err)))

	assert.Equal(t, "bare reason", (&ValidationError{Reason: "bare reason"}).Error())
	assert.False(t, IsValidationError(ErrNotFound))
	assert.False(t, IsValidationError(nil))
}
