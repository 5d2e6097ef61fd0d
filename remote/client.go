// ABOUTME: JSON-RPC client for the remote CRM API
// ABOUTME: Implements create, edit, search, fetch and timeline calls with correlation ids
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/crmsync/models"
)

// API is the boundary the sync engine talks through. Criteria for Find are
// per-kind: a domain for accounts, an email address for contacts and a
// linked contact id for leads.
type API interface {
	Create(ctx context.Context, kind models.Kind, payload *Payload) (*Entity, error)
	Edit(ctx context.Context, kind models.Kind, id int64, rev string, patch map[string]any) (*Entity, error)
	Find(ctx context.Context, kind models.Kind, criteria string, limit int) ([]*Entity, error)
	GetByID(ctx context.Context, kind models.Kind, id int64) (*Entity, error)
	GetActivity(ctx context.Context, id int64) (*Activity, error)
	FindTimeline(ctx context.Context, kind models.Kind, id int64) ([]*Activity, error)
}

const apiPath = "/api/v1/json"

// Client talks JSON-RPC over HTTPS to a per-tenant API host resolved
// through endpoint discovery. It is safe for concurrent use.
type Client struct {
	username     string
	apiKey       string
	discoveryURL string
	cacheKey     string

	httpClient *http.Client
	hosts      *hostCache
	logger     *slog.Logger

	// hostOverride skips discovery; used by tests and fixed installs.
	hostOverride string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHost pins the API host, bypassing endpoint discovery.
func WithHost(host string) Option {
	return func(c *Client) { c.hostOverride = host }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// ClientSettings is the slice of connector settings the client needs.
type ClientSettings struct {
	Username     string
	APIKey       string
	DiscoveryURL string
	// ConnectorID, ConfigVersion and Secret key the discovery cache so a
	// configuration change invalidates cached hosts immediately.
	ConnectorID   string
	ConfigVersion string
	Secret        string
}

// NewClient creates a remote API client.
func NewClient(s ClientSettings, opts ...Option) *Client {
	c := &Client{
		username:     s.Username,
		apiKey:       s.APIKey,
		discoveryURL: s.DiscoveryURL,
		cacheKey:     strings.Join([]string{s.ConnectorID, s.ConfigVersion, s.Secret, "cf"}, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		hosts:        newHostCache(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

// call posts one JSON-RPC request. The request id is a fresh correlation id
// used for tracing only.
func (c *Client) call(ctx context.Context, url, method string, params, out any) error {
	reqID := uuid.NewString()
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      reqID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.apiKey != "" {
		req.SetBasicAuth(c.username, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("remote api call",
		"method", method,
		"request_id", reqID,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s failed: %w", method, rpcResp.Error)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// apiCall resolves the tenant host and issues a JSON-RPC call against it.
func (c *Client) apiCall(ctx context.Context, method string, params, out any) error {
	host, err := c.APIHost(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, "https://"+host+apiPath, method, params, out)
}

// paramName is the per-kind id parameter ("accountId", "contactId", ...).
func paramName(kind models.Kind) string {
	return strings.ToLower(string(kind)) + "Id"
}

// Create inserts a new remote entity and returns its full state, including
// the assigned id and initial revision.
func (c *Client) Create(ctx context.Context, kind models.Kind, payload *Payload) (*Entity, error) {
	params := map[string]any{strings.ToLower(string(kind)): payload}
	var out Entity
	if err := c.apiCall(ctx, "new"+string(kind), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Edit patches an existing entity under optimistic concurrency. The remote
// rejects edits whose revision does not match its current state.
func (c *Client) Edit(ctx context.Context, kind models.Kind, id int64, rev string, patch map[string]any) (*Entity, error) {
	params := map[string]any{
		paramName(kind):                id,
		"rev":                          rev,
		strings.ToLower(string(kind)): patch,
	}
	var out Entity
	if err := c.apiCall(ctx, "edit"+string(kind), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Find searches for entity stubs matching the per-kind criteria.
func (c *Client) Find(ctx context.Context, kind models.Kind, criteria string, limit int) ([]*Entity, error) {
	switch kind {
	case models.KindAccount:
		var out []*Entity
		params := map[string]any{"string": criteria, "limit": limit}
		if err := c.apiCall(ctx, "searchAccounts", params, &out); err != nil {
			return nil, err
		}
		return out, nil
	case models.KindContact:
		var out struct {
			Contacts []*Entity `json:"contacts"`
			Accounts []*Entity `json:"accounts"`
		}
		params := map[string]any{"emailAddressString": criteria}
		if err := c.apiCall(ctx, "searchByEmail", params, &out); err != nil {
			return nil, err
		}
		return out.Contacts, nil
	case models.KindLead:
		contactID, ok := models.CoerceID(criteria)
		if !ok {
			return nil, fmt.Errorf("lead search needs a contact id, got %q", criteria)
		}
		var out []*Entity
		params := map[string]any{
			"query": map[string]any{"contactId": contactID},
			"limit": limit,
		}
		if err := c.apiCall(ctx, "findLeads", params, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported search kind %q", kind)
}

// GetByID fetches the authoritative state of one entity.
func (c *Client) GetByID(ctx context.Context, kind models.Kind, id int64) (*Entity, error) {
	params := map[string]any{paramName(kind): id}
	var out Entity
	if err := c.apiCall(ctx, "get"+string(kind), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActivity fetches one timeline activity by id.
func (c *Client) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	params := map[string]any{"activityId": id}
	var out Activity
	if err := c.apiCall(ctx, "getActivity", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindTimeline fetches the activity timeline of one entity, newest last.
func (c *Client) FindTimeline(ctx context.Context, kind models.Kind, id int64) ([]*Activity, error) {
	params := map[string]any{paramName(kind): id}
	var out []*Activity
	if err := c.apiCall(ctx, "findTimeline", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
