package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ClassifiedError
		expected string
	}{
		{
			name:     "without cause",
			err:      ValidationError("app id must start with a letter").Build(),
			expected: "[validation:error] app id must start with a letter",
		},
		{
			name:     "with cause",
			err:      PatchError("rewrite strings.xml").WithCause(fmt.Errorf("permission denied")).Build(),
			expected: "[patch:error] rewrite strings.xml: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConstructorsCarryStage(t *testing.T) {
	assert.Equal(t, StageRecovery, RecoveryError("x").Build().Stage())
	assert.Equal(t, StagePatch, PatchError("x").Build().Stage())
	assert.Equal(t, StageBuild, BuildError("x").Build().Stage())
	assert.Equal(t, StageBuild, TimeoutError("x").Build().Stage())
	assert.Equal(t, StageArtifactCopy, ArtifactError("x").Build().Stage())
	assert.Equal(t, StageValidation, ValidationError("x").Build().Stage())
}

func TestAsClassified_WrappedChain(t *testing.T) {
	inner := BuildError("gradle exited with status 1").Build()
	wrapped := fmt.Errorf("job abc: %w", inner)

	got, ok := AsClassified(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, HasCategory(wrapped, CategoryBuild))
	assert.Equal(t, StageBuild, GetStage(wrapped, StageInternal))
	assert.Equal(t, StageInternal, GetStage(stdErrors.New("plain"), StageInternal))
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := PatchError("move package").Build()
	extended := base.WithContext("from", "alpha")

	_, found := base.Context().Get("from")
	assert.False(t, found)
	v, ok := extended.Context().GetString("from")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)
}

func TestOperatorRequired(t *testing.T) {
	err := RecoveryError("multiple package directories").UserAction().Build()
	assert.True(t, IsOperatorRequired(fmt.Errorf("wrap: %w", err)))
	assert.False(t, IsOperatorRequired(BuildError("x").Build()))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "", MessageOf(nil))
	assert.Equal(t, "plain", MessageOf(stdErrors.New("plain")))
	assert.Equal(t, "copy artifact: disk full",
		MessageOf(ArtifactError("copy artifact").WithCause(stdErrors.New("disk full")).Build()))
}

func TestCLIErrorAdapter_ExitCodes(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{stdErrors.New("plain"), 1},
		{ValidationError("x").Build(), 2},
		{ConfigError("x").Build(), 7},
		{RecoveryError("x").Build(), 9},
		{BuildError("x").Build(), 11},
		{TimeoutError("x").Build(), 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, a.ExitCodeFor(tt.err))
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	assert.Equal(t, "bad id", a.FormatError(ValidationError("bad id").Build()))
	assert.Equal(t, "build failed: gradle exited 1", a.FormatError(BuildError("gradle exited 1").Build()))
	assert.Contains(t, a.FormatError(RecoveryError("two package dirs").UserAction().Build()), "operator intervention")
}

func TestHTTPErrorAdapter(t *testing.T) {
	a := NewHTTPErrorAdapter(nil)
	assert.Equal(t, http.StatusBadRequest, a.StatusCodeFor(ValidationError("x").Build()))
	assert.Equal(t, http.StatusNotFound, a.StatusCodeFor(NotFoundError("x").Build()))
	assert.Equal(t, http.StatusConflict, a.StatusCodeFor(ConflictError("x").Build()))
	assert.Equal(t, http.StatusGatewayTimeout, a.StatusCodeFor(TimeoutError("x").Build()))
	assert.Equal(t, http.StatusInternalServerError, a.StatusCodeFor(stdErrors.New("x")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/builds", nil)
	a.WriteErrorResponse(rec, req, ValidationError("app_id is required").WithContext("field", "app_id").Build())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"validation"`)
	assert.Contains(t, rec.Body.String(), `"field":"app_id"`)
}
