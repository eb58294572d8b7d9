package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("start failed: %w", UnknownService("ghost-app"))

	assert.True(t, HasCode(err, ErrUnknownService))
	assert.False(t, HasCode(err, ErrAlreadyInProgress))
	assert.True(t, IsWorkshopError(err))
	assert.Equal(t, ErrorCode(""), GetCode(stderrors.New("plain")))
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *WorkshopError
		want int
	}{
		{UnknownService("a"), http.StatusNotFound},
		{UnknownIncident("INC-0001"), http.StatusNotFound},
		{AlreadyInProgress("a", "start"), http.StatusConflict},
		{GhostService("sophia", "start"), http.StatusConflict},
		{ProcessSpawnFailed("a", stderrors.New("exec: not found")), http.StatusInternalServerError},
		{DependencyCycle([]string{"a", "b", "a"}), http.StatusInternalServerError},
		{InvalidInput("x", "y"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.GetHTTPStatus())
		})
	}
}

func TestWorkshopError_MessageIncludesCause(t *testing.T) {
	cause := stderrors.New("fork/exec /bin/nope: no such file or directory")
	err := ProcessSpawnFailed("inspector", cause)

	assert.Contains(t, err.Error(), "PROCESS_SPAWN_FAILED")
	assert.Contains(t, err.Error(), "inspector")
	assert.Contains(t, err.Error(), "no such file")
	assert.ErrorIs(t, err, cause)
}

func TestDependencyCycle_ContextCarriesPath(t *testing.T) {
	err := DependencyCycle([]string{"a", "b", "a"})

	assert.Contains(t, err.Details, "a -> b -> a")
	assert.Equal(t, []string{"a", "b", "a"}, err.Context["cycle"])
}

func TestToHTTPError(t *testing.T) {
	httpErr := ToHTTPError(AlreadyInProgress("peterman", "start"))

	he, ok := httpErr.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Code)

	body, ok := he.Message.(HTTPErrorResponse)
	require.True(t, ok)
	assert.Equal(t, ErrAlreadyInProgress, body.Error.Code)

	he, ok = ToHTTPError(stderrors.New("boom")).(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
}
