package board

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/auth"
	"github.com/erauner12/taskboard-sync/internal/client"
	"github.com/erauner12/taskboard-sync/internal/config"
	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/reconcile"
	"github.com/erauner12/taskboard-sync/internal/reconnect"
)

// Client builds scopes against one board API
type Client struct {
	cfg       *config.Config
	endpoints *config.Endpoints
	http      *client.HTTPClient
	tokens    *auth.TokenSource
}

// Connect resolves the endpoints and prepares the REST client. The config
// should already be validated.
func Connect(ctx context.Context, cfg *config.Config, endpoints *config.Endpoints) (*Client, error) {
	if endpoints == nil {
		endpoints = config.FromConfig(cfg)
	}
	if err := endpoints.Init(ctx); err != nil {
		return nil, err
	}
	api, err := endpoints.API()
	if err != nil {
		return nil, err
	}

	var tokens *auth.TokenSource
	var provider client.TokenProvider
	if cfg.Auth.Enabled() {
		tokens, err = auth.NewTokenSource(cfg.Auth.Secret, cfg.Auth.Subject, "", cfg.Auth.TTL())
		if err != nil {
			return nil, fmt.Errorf("failed to create token source: %w", err)
		}
		provider = tokens
	}

	log.Info().Str("api", api).Bool("auth", tokens != nil).Msg("board client ready")
	return &Client{
		cfg:       cfg,
		endpoints: endpoints,
		http:      client.NewHTTPClient(api, provider),
		tokens:    tokens,
	}, nil
}

// HTTP returns the shared REST client
func (c *Client) HTTP() *client.HTTPClient {
	return c.http
}

// Tasks creates a task scope for one project, partitioned by status
func (c *Client) Tasks(projectID string) (*TaskScope, error) {
	res := client.TasksResource
	streamURL, err := c.endpoints.StreamURL(res.StreamPath, res.ScopeParam, projectID)
	if err != nil {
		return nil, err
	}

	order := c.cfg.Order()
	scope := NewScope[model.Task](client.NewEntityClient[model.Task](c.http, res), Options[model.Task]{
		Collection:           "tasks",
		ScopeID:              projectID,
		Partitions:           model.StatusKeys(),
		PageSize:             c.cfg.PageSize,
		OrderBy:              order,
		Compare:              model.CompareTasks(order),
		MaxConcurrentFetches: c.cfg.MaxConcurrentFetches,
		StreamURL:            streamURL,
		Header:               c.streamHeader,
		Reconnect:            reconnect.Policy{BaseDelay: c.cfg.ReconnectBase(), MaxDelay: c.cfg.ReconnectMax()},
		Frames:               reconcile.IntervalFrames{Interval: c.cfg.FrameInterval()},
		PreFilter:            reconcile.CollapseReplaces,
	})
	return &TaskScope{Scope: scope, projectID: projectID, now: time.Now}, nil
}

// Gantt creates a read-only gantt scope for one project. The gantt view has
// no patch stream; LoadInitial and LoadMore keep it current.
func (c *Client) Gantt(projectID string) *Scope[model.GanttItem] {
	return NewScope[model.GanttItem](client.NewGanttLister(c.http), Options[model.GanttItem]{
		Collection: "gantt",
		ScopeID:    projectID,
		Partitions: model.StatusKeys(),
		PageSize:   c.cfg.PageSize,
		Compare:    model.CompareGantt,
	})
}

// streamHeader authenticates the websocket handshake
func (c *Client) streamHeader(ctx context.Context) (http.Header, error) {
	if c.tokens == nil {
		return nil, nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}
