package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("plan 7: %w", ErrNotFound), http.StatusNotFound},
		{ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("node n1: %w", ErrNodeUnavailable), http.StatusBadRequest},
		{fmt.Errorf("task 3 is RUNNING: %w", ErrInvalidState), http.StatusConflict},
		{ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{ErrSpawn, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
