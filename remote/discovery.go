// ABOUTME: Endpoint discovery for per-tenant API hosts
// ABOUTME: Resolves and caches the JSON-RPC host via getApiForUsername
package remote

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoEndpoint is returned when discovery succeeds as a call but yields no
// usable host for the username.
var ErrNoEndpoint = errors.New("endpoint discovery yielded no result")

// hostCacheTTL bounds how long a discovered host is reused before it is
// re-resolved.
const hostCacheTTL = 30 * time.Minute

type hostEntry struct {
	host    string
	expires time.Time
}

// hostCache is a TTL map of discovery cache keys to API hosts. Entries are
// keyed by connector id, config version and secret so a reconfigured
// connector never reuses a host resolved under old credentials.
type hostCache struct {
	mu      sync.Mutex
	entries map[string]hostEntry
	now     func() time.Time
}

func newHostCache() *hostCache {
	return &hostCache{
		entries: make(map[string]hostEntry),
		now:     time.Now,
	}
}

func (hc *hostCache) get(key string) (string, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, ok := hc.entries[key]
	if !ok || hc.now().After(e.expires) {
		delete(hc.entries, key)
		return "", false
	}
	return e.host, true
}

func (hc *hostCache) put(key, host string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.entries[key] = hostEntry{host: host, expires: hc.now().Add(hostCacheTTL)}
}

// APIHost returns the JSON-RPC host for this tenant, resolving it through
// endpoint discovery when no fresh cached value exists.
func (c *Client) APIHost(ctx context.Context) (string, error) {
	if c.hostOverride != "" {
		return c.hostOverride, nil
	}
	if host, ok := c.hosts.get(c.cacheKey); ok {
		return host, nil
	}
	host, err := c.DiscoverEndpoint(ctx)
	if err != nil {
		return "", err
	}
	c.hosts.put(c.cacheKey, host)
	return host, nil
}

// DiscoverEndpoint asks the discovery service which API host serves the
// configured username. The result is not cached here; APIHost handles that.
func (c *Client) DiscoverEndpoint(ctx context.Context) (string, error) {
	var out struct {
		API string `json:"api"`
	}
	params := map[string]any{"username": c.username}
	if err := c.call(ctx, c.discoveryURL, "getApiForUsername", params, &out); err != nil {
		return "", err
	}
	if out.API == "" {
		return "", ErrNoEndpoint
	}
	c.logger.Debug("discovered api endpoint", "host", out.API)
	return out.API, nil
}
