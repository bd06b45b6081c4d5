package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrPermissionDenied, "cannot edit"))
	appErr := FromError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrPermissionDenied.Code, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.Equal(t, "cannot edit", appErr.Message)
}

func TestFromErrorHidesUnexpectedDetail(t *testing.T) {
	appErr := FromError(stdErrors.New("open /var/data/secret.pdf: permission denied"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, ErrInternal.Message, appErr.Message)
	assert.NotContains(t, appErr.Message, "/var/data")
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), ErrUpstreamTimeout.Code, ErrUpstreamTimeout.Status, "mirror timed out")
	assert.True(t, stdErrors.Is(err, ErrUpstreamTimeout))
	assert.False(t, stdErrors.Is(err, ErrUpstreamFailure))
	assert.True(t, IsCode(fmt.Errorf("ctx: %w", err), ErrUpstreamTimeout.Code))
}
