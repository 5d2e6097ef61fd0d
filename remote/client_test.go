// ABOUTME: Tests for the JSON-RPC client
// ABOUTME: Round-trips calls through a test server and checks method shapes
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/crmsync/models"
)

// rpcRecorder captures the last decoded request and answers with a canned
// result.
type rpcRecorder struct {
	lastMethod string
	lastParams map[string]any
	result     any
	rpcErr     *rpcError
}

func (rr *rpcRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSONRPC string         `json:"jsonrpc"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
		ID      string         `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr.lastMethod = req.Method
	rr.lastParams = req.Params

	resp := map[string]any{"id": req.ID}
	if rr.rpcErr != nil {
		resp["error"] = rr.rpcErr
	} else {
		resp["result"] = rr.result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, rr *rpcRecorder) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(rr)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "https://")
	return NewClient(
		ClientSettings{Username: "jane", APIKey: "secret"},
		WithHost(host),
		WithHTTPClient(srv.Client()),
	)
}

func TestCreateContact(t *testing.T) {
	rr := &rpcRecorder{result: map[string]any{"id": 7, "rev": "1"}}
	c := newTestClient(t, rr)

	created, err := c.Create(context.Background(), models.KindContact, &Payload{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, "1", created.Rev)

	assert.Equal(t, "newContact", rr.lastMethod)
	contact, ok := rr.lastParams["contact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", contact["name"])
}

func TestEditSendsRevAndId(t *testing.T) {
	rr := &rpcRecorder{result: map[string]any{"id": 7, "rev": "2"}}
	c := newTestClient(t, rr)

	updated, err := c.Edit(context.Background(), models.KindContact, 7, "1", map[string]any{"description": "hi", "rev": "1"})
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Rev)

	assert.Equal(t, "editContact", rr.lastMethod)
	assert.Equal(t, float64(7), rr.lastParams["contactId"])
	assert.Equal(t, "1", rr.lastParams["rev"])
}

func TestFindPerKind(t *testing.T) {
	t.Run("accounts", func(t *testing.T) {
		rr := &rpcRecorder{result: []map[string]any{{"id": 3, "rev": "1"}}}
		c := newTestClient(t, rr)

		found, err := c.Find(context.Background(), models.KindAccount, "example.com", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, int64(3), found[0].ID)

		assert.Equal(t, "searchAccounts", rr.lastMethod)
		assert.Equal(t, "example.com", rr.lastParams["string"])
		assert.Equal(t, float64(10), rr.lastParams["limit"])
	})

	t.Run("contacts", func(t *testing.T) {
		rr := &rpcRecorder{result: map[string]any{
			"contacts": []map[string]any{{"id": 5, "rev": "1"}},
			"accounts": []map[string]any{{"id": 9, "rev": "1"}},
		}}
		c := newTestClient(t, rr)

		found, err := c.Find(context.Background(), models.KindContact, "jane@example.com", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, int64(5), found[0].ID)

		assert.Equal(t, "searchByEmail", rr.lastMethod)
		assert.Equal(t, "jane@example.com", rr.lastParams["emailAddressString"])
	})

	t.Run("leads", func(t *testing.T) {
		rr := &rpcRecorder{result: []map[string]any{{"id": 11, "rev": "4"}}}
		c := newTestClient(t, rr)

		found, err := c.Find(context.Background(), models.KindLead, "5", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)

		assert.Equal(t, "findLeads", rr.lastMethod)
		query, ok := rr.lastParams["query"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(5), query["contactId"])
	})

	t.Run("leads reject non-numeric criteria", func(t *testing.T) {
		c := newTestClient(t, &rpcRecorder{})
		_, err := c.Find(context.Background(), models.KindLead, "not-a-number", 10)
		require.Error(t, err)
	})
}

func TestGetByID(t *testing.T) {
	rr := &rpcRecorder{result: map[string]any{"id": 7, "rev": "1", "name": "Jane"}}
	c := newTestClient(t, rr)

	e, err := c.GetByID(context.Background(), models.KindLead, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, "getLead", rr.lastMethod)
	assert.Equal(t, float64(7), rr.lastParams["leadId"])
}

func TestRPCErrorSurfaces(t *testing.T) {
	rr := &rpcRecorder{rpcErr: &rpcError{Code: -32600, Message: "invalid request"}}
	c := newTestClient(t, rr)

	_, err := c.GetByID(context.Background(), models.KindContact, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestFindTimeline(t *testing.T) {
	rr := &rpcRecorder{result: []map[string]any{
		{"id": 1, "activityType": map[string]any{"name": "Phone Call"}},
	}}
	c := newTestClient(t, rr)

	activities, err := c.FindTimeline(context.Background(), models.KindContact, 7)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "Phone Call", activities[0].ActivityType.Name)
	assert.Equal(t, "findTimeline", rr.lastMethod)
	assert.Equal(t, float64(7), rr.lastParams["contactId"])
}
