// ABOUTME: Tests for the HTTP platform client
// ABOUTME: Round-trips writes and watermark queries through a test server
package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAttributes(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "shh")
	attrs := AttributeMap{}
	attrs.Set("contact/id", 7)
	attrs.SetIfEmpty("first_name", "Jane")

	err := c.WriteAttributes(context.Background(), Identity{Email: "jane@example.com"}, attrs)
	require.NoError(t, err)

	assert.Equal(t, "/attributes", gotPath)
	assert.Equal(t, "Bearer shh", gotAuth)

	ident := gotBody["identity"].(map[string]any)
	assert.Equal(t, "jane@example.com", ident["email"])

	sent := gotBody["attributes"].(map[string]any)
	first := sent["first_name"].(map[string]any)
	assert.Equal(t, "Jane", first["value"])
	assert.Equal(t, "setIfEmpty", first["operation"])
	id := sent["contact/id"].(map[string]any)
	_, hasOp := id["operation"]
	assert.False(t, hasOp, "overwrite is the default and stays implicit")
}

func TestRecordEvent(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	err := c.RecordEvent(context.Background(), Identity{Email: "jane@example.com"}, Event{
		Name:    "Phone Call",
		Params:  map[string]any{"note": "hi"},
		Context: map[string]any{"event_id": "crm-9-1"},
	})
	require.NoError(t, err)

	ev := gotBody["event"].(map[string]any)
	assert.Equal(t, "Phone Call", ev["name"])
}

func TestLatestEventTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/latest", r.URL.Path)
		assert.Equal(t, "crm", r.URL.Query().Get("source"))
		_ = json.NewEncoder(w).Encode(map[string]any{"latest_event_at": "2023-05-01T10:00:00Z"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	got, err := c.LatestEventTime(context.Background(), Identity{Email: "jane@example.com"}, "crm")
	require.NoError(t, err)
	want, _ := time.Parse(time.RFC3339, "2023-05-01T10:00:00Z")
	assert.True(t, got.Equal(want))
}

func TestLatestEventTimeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	got, err := c.LatestEventTime(context.Background(), Identity{}, "crm")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "wrong")
	err := c.WriteAttributes(context.Background(), Identity{}, AttributeMap{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
