package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
		expected    string
	}{
		{
			name:     "valid JSON",
			body:     `{"name": "test"}`,
			expected: "test",
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:     "empty body",
			body:     "",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			dest := map[string]string{"name": "default"}

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, dest["name"])
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{invalid}`))
	var dest map[string]string

	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/plugins/clock", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "clock"})

	val, err := ParsePathString(req, "id")
	assert.NoError(t, err)
	assert.Equal(t, "clock", val)

	_, err = ParsePathString(req, "version")
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "version")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/plugins?q=clock&refresh=true&bad=maybe&tag=time,basic&tag=%20led%20", nil)

	assert.Equal(t, "clock", ParseQueryString(req, "q", ""))
	assert.Equal(t, "all", ParseQueryString(req, "category", "all"))

	refresh, err := ParseQueryBool(req, "refresh", false)
	assert.NoError(t, err)
	assert.True(t, refresh)

	_, err = ParseQueryBool(req, "bad", false)
	assert.Error(t, err)

	missing, err := ParseQueryBool(req, "missing", true)
	assert.NoError(t, err)
	assert.True(t, missing)

	assert.Equal(t, []string{"time", "basic", "led"}, ParseQueryList(req, "tag"))
	assert.Empty(t, ParseQueryList(req, "none"))
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "value", "field"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "  ", "repo_url"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "repo_url is required")
}
