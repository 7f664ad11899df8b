package httputil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testexec-platform/internal/shared/apperr"
)

func TestWriteAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, fmt.Errorf("node n1: %w", apperr.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"node n1: not found"}`, rec.Body.String())
}

func TestQueryInt64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?taskId=12&bad=abc", nil)

	v, err := QueryInt64(r, "taskId")
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	_, err = QueryInt64(r, "bad")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = QueryInt64(r, "missing")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		PlanID int64 `json:"planId"`
	}
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"planId": 7}`))
	require.NoError(t, DecodeJSON(r, &body))
	assert.Equal(t, int64(7), body.PlanID)

	r = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{`))
	assert.ErrorIs(t, DecodeJSON(r, &body), apperr.ErrInvalidArgument)
}
