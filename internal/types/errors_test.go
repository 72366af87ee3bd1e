package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create task: %w", Invalid("title", "is required"))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "title", ve.Field)
	assert.EqualError(t, err, "create task: validation: title: is required")

	err = fmt.Errorf("update task: %w", NotFound("task", TaskID("abc")))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "abc", nf.ID)
	assert.Contains(t, err.Error(), `task "abc" not found`)
}
