// ABOUTME: HTTP implementation of the platform write boundary
// ABOUTME: Posts attribute batches and events to the platform ingestion API
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to the platform ingestion API. Writes carry the
// connector secret as a bearer token.
type HTTPClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewHTTPClient creates a platform client for the given base URL.
func NewHTTPClient(baseURL, secret string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// attributePayload is the wire form of one attribute write.
type attributePayload struct {
	Value     any    `json:"value"`
	Operation string `json:"operation,omitempty"`
}

type writeRequest struct {
	Identity   identityPayload             `json:"identity"`
	Attributes map[string]attributePayload `json:"attributes,omitempty"`
	Event      *eventPayload               `json:"event,omitempty"`
}

type identityPayload struct {
	Email   string           `json:"email,omitempty"`
	Domain  string           `json:"domain,omitempty"`
	Alias   string           `json:"anonymous_id,omitempty"`
	Account *identityPayload `json:"account,omitempty"`
}

type eventPayload struct {
	Name    string         `json:"name"`
	Params  map[string]any `json:"properties,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func identityToPayload(id Identity) identityPayload {
	p := identityPayload{Email: id.Email, Domain: id.Domain, Alias: id.Alias}
	if id.Account != nil {
		acct := identityToPayload(*id.Account)
		p.Account = &acct
	}
	return p
}

func (c *HTTPClient) WriteAttributes(ctx context.Context, ident Identity, attrs AttributeMap) error {
	body := writeRequest{
		Identity:   identityToPayload(ident),
		Attributes: make(map[string]attributePayload, len(attrs)),
	}
	for name, attr := range attrs {
		op := ""
		if attr.Operation == SetIfEmpty {
			op = string(SetIfEmpty)
		}
		body.Attributes[name] = attributePayload{Value: attr.Value, Operation: op}
	}
	return c.post(ctx, "/attributes", body, nil)
}

func (c *HTTPClient) RecordEvent(ctx context.Context, ident Identity, ev Event) error {
	body := writeRequest{
		Identity: identityToPayload(ident),
		Event: &eventPayload{
			Name:    ev.Name,
			Params:  ev.Params,
			Context: ev.Context,
		},
	}
	return c.post(ctx, "/events", body, nil)
}

func (c *HTTPClient) LatestEventTime(ctx context.Context, ident Identity, source string) (time.Time, error) {
	q := url.Values{}
	if ident.Email != "" {
		q.Set("email", ident.Email)
	}
	if ident.Alias != "" {
		q.Set("anonymous_id", ident.Alias)
	}
	q.Set("source", source)

	var out struct {
		LatestEventAt string `json:"latest_event_at"`
	}
	if err := c.get(ctx, "/events/latest?"+q.Encode(), &out); err != nil {
		return time.Time{}, err
	}
	if out.LatestEventAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, out.LatestEventAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse latest event time: %w", err)
	}
	return t, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode platform request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build platform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build platform request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read platform response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("platform returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode platform response: %w", err)
		}
	}
	return nil
}
