package processlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/processes/p1/advance", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Process{ID: "p1", Flow: []string{"sales", "legal"}, CurrentIndex: 1, Status: "IN_PROGRESS"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	p, err := c.Advance(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "legal", p.CurrentDepartment())
}

func TestValidationErrorCarriesIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"validation_failed","message":"cannot advance","details":{"issues":[{"requirement":"Invoice","message":"document \"Invoice\" is required"}]}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Advance(context.Background(), "p1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "validation_failed", apiErr.Code)
	require.Len(t, apiErr.Issues, 1)
	assert.Equal(t, "Invoice", apiErr.Issues[0].Requirement)
}

func TestHardDeleteAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/trash/t1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "tok").HardDelete(context.Background(), "t1"))
}

func TestTimelineQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[{"id":2,"kind":"ADVANCED"},{"id":1,"kind":"CREATED"}]}`))
	}))
	defer srv.Close()

	events, err := New(srv.URL, "").Timeline(context.Background(), "p1", 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ADVANCED", events[0].Kind)
}
