package introspection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PublishAndGet(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	registry.Publish("answer", Func(func() (interface{}, error) { return 42, nil }))

	value, err := registry.Get("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	_, err = registry.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_PublishReplaces(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	registry.Publish("v", Func(func() (interface{}, error) { return "old", nil }))
	registry.Publish("v", Func(func() (interface{}, error) { return "new", nil }))

	value, err := registry.Get("v")
	require.NoError(t, err)
	assert.Equal(t, "new", value)
}

func TestRegistry_Paths(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	registry.Publish("b", Func(func() (interface{}, error) { return nil, nil }))
	registry.Publish("a", Func(func() (interface{}, error) { return nil, nil }))

	assert.Equal(t, []string{"a", "b"}, registry.Paths())
}

func TestRegistry_PublishPanics(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	assert.Panics(t, func() { registry.Publish("", Func(func() (interface{}, error) { return nil, nil })) })
	assert.Panics(t, func() { registry.Publish("x", nil) })
}

func TestServer_VarEndpoint(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	registry.Publish("leadership", Func(func() (interface{}, error) {
		return map[string]string{"sdn": "node-a"}, nil
	}))
	server := NewServer(":0", registry)

	req := httptest.NewRequest(http.MethodGet, "/debug/vars/leadership", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "node-a", got["sdn"])
}

func TestServer_ListEndpoint(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	registry.Publish("one", Func(func() (interface{}, error) { return 1, nil }))
	server := NewServer(":0", registry)

	req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "one")
}

func TestServer_UnknownVarIs404(t *testing.T) {
	t.Parallel()
	server := NewServer(":0", NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/debug/vars/missing", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_VarErrorsSurface(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	registry.Publish("broken", Func(func() (interface{}, error) {
		return nil, fmt.Errorf("collector offline")
	}))
	server := NewServer(":0", registry)

	req := httptest.NewRequest(http.MethodGet, "/debug/vars/broken", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "collector offline")
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	server := NewServer(":0", NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
