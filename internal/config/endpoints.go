package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// BaseURLProvider resolves the API root. It may block (discovery, a local
// agent, a settings file), so it is consulted once per Init.
type BaseURLProvider interface {
	BaseURL(ctx context.Context) (string, error)
}

// StaticBaseURL is a BaseURLProvider for a fixed address
type StaticBaseURL string

func (s StaticBaseURL) BaseURL(ctx context.Context) (string, error) {
	return string(s), nil
}

// Endpoints holds the resolved REST and stream roots for one client.
// It is constructed explicitly and owned by its caller; Reset forces the
// next Init to ask the provider again.
type Endpoints struct {
	provider   BaseURLProvider
	streamBase string

	mu        sync.RWMutex
	api      string
	stream   string
	resolved bool
}

// NewEndpoints creates unresolved endpoints. streamBase overrides the
// websocket root; when empty it is derived from the API root.
func NewEndpoints(provider BaseURLProvider, streamBase string) *Endpoints {
	return &Endpoints{provider: provider, streamBase: streamBase}
}

// FromConfig builds endpoints from the static addresses in cfg
func FromConfig(cfg *Config) *Endpoints {
	return NewEndpoints(StaticBaseURL(cfg.APIBaseURL), cfg.StreamBaseURL)
}

// Init resolves the base URL once; later calls are no-ops until Reset
func (e *Endpoints) Init(ctx context.Context) error {
	e.mu.RLock()
	done := e.resolved
	e.mu.RUnlock()
	if done {
		return nil
	}

	base, err := e.provider.BaseURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve base url: %w", err)
	}
	if base == "" {
		return ErrMissingAPIBaseURL
	}
	api := strings.TrimRight(base, "/")

	stream := e.streamBase
	if stream == "" {
		stream, err = websocketRoot(api)
		if err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.api = api
	e.stream = strings.TrimRight(stream, "/")
	e.resolved = true
	e.mu.Unlock()
	return nil
}

// Reset drops the resolved addresses
func (e *Endpoints) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.api, e.stream, e.resolved = "", "", false
}

// API returns the REST root
func (e *Endpoints) API() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.resolved {
		return "", ErrEndpointsNotInitialized
	}
	return e.api, nil
}

// StreamURL builds the websocket address of a collection stream for one
// scope. Snapshots are never requested; the REST load provides them.
func (e *Endpoints) StreamURL(path, scopeParam, scopeID string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.resolved {
		return "", ErrEndpointsNotInitialized
	}
	q := url.Values{}
	q.Set(scopeParam, scopeID)
	q.Set("include_snapshot", "false")
	return e.stream + path + "?" + q.Encode(), nil
}

func websocketRoot(api string) (string, error) {
	u, err := url.Parse(api)
	if err != nil {
		return "", fmt.Errorf("invalid api base url %q: %w", api, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid api base url %q: unsupported scheme", api)
	}
	return u.String(), nil
}
