package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/partition"
)

// Resource describes where a collection lives on the board API
type Resource struct {
	Path           string // e.g. "/api/tasks"
	ListField      string // key of the item array inside the list payload
	ScopeParam     string // query parameter carrying the scope id
	PartitionParam string // query parameter carrying the partition key
	StreamPath     string // websocket path for the collection's patch stream
}

// TasksResource is the task collection
var TasksResource = Resource{
	Path:           "/api/tasks",
	ListField:      "tasks",
	ScopeParam:     "project_id",
	PartitionParam: "status",
	StreamPath:     "/api/tasks/stream/ws",
}

// EntityClient provides CRUD and paginated listing for one collection
type EntityClient[T model.Entity] struct {
	http *HTTPClient
	res  Resource
}

// NewEntityClient creates a client for the collection described by res
func NewEntityClient[T model.Entity](httpClient *HTTPClient, res Resource) *EntityClient[T] {
	return &EntityClient[T]{http: httpClient, res: res}
}

// Resource returns the collection description
func (c *EntityClient[T]) Resource() Resource {
	return c.res
}

// List fetches one page of one partition.
// GET /api/tasks?project_id=&offset=&limit=&status=&order_by=
func (c *EntityClient[T]) List(ctx context.Context, scopeID string, opts partition.ListOptions) (partition.Page[T], error) {
	params := url.Values{}
	params.Set(c.res.ScopeParam, scopeID)
	params.Set("offset", strconv.Itoa(opts.Offset))
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Partition != "" {
		params.Set(c.res.PartitionParam, opts.Partition)
	}
	if opts.OrderBy != "" {
		params.Set("order_by", string(opts.OrderBy))
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.http.baseURL, c.res.Path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return partition.Page[T]{}, err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return partition.Page[T]{}, err
	}
	defer resp.Body.Close()

	data, err := decodeEnvelope[map[string]json.RawMessage](resp)
	if err != nil {
		return partition.Page[T]{}, err
	}

	var page partition.Page[T]
	if raw, ok := data[c.res.ListField]; ok {
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return partition.Page[T]{}, fmt.Errorf("failed to decode %s: %w", c.res.ListField, err)
		}
	}
	if raw, ok := data["total"]; ok {
		if err := json.Unmarshal(raw, &page.Total); err != nil {
			return partition.Page[T]{}, fmt.Errorf("failed to decode total: %w", err)
		}
	}
	if raw, ok := data["hasMore"]; ok {
		if err := json.Unmarshal(raw, &page.HasMore); err != nil {
			return partition.Page[T]{}, fmt.Errorf("failed to decode hasMore: %w", err)
		}
	}
	return page, nil
}

// Get retrieves a single entity by id
// Returns ErrNotFound if the entity doesn't exist
func (c *EntityClient[T]) Get(ctx context.Context, id string) (T, error) {
	return c.send(ctx, http.MethodGet, id, nil)
}

// Create posts a new entity and returns the canonical item
func (c *EntityClient[T]) Create(ctx context.Context, payload any) (T, error) {
	return c.send(ctx, http.MethodPost, "", payload)
}

// Update puts changed fields and returns the canonical item
func (c *EntityClient[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return c.send(ctx, http.MethodPut, id, payload)
}

// Delete removes an entity
func (c *EntityClient[T]) Delete(ctx context.Context, id string) error {
	_, err := c.send(ctx, http.MethodDelete, id, nil)
	return err
}

func (c *EntityClient[T]) send(ctx context.Context, method, id string, payload any) (T, error) {
	var zero T

	reqURL := c.http.baseURL + c.res.Path
	if id != "" {
		reqURL += "/" + url.PathEscape(id)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return zero, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && id != "" {
		return zero, ErrNotFound{ID: id}
	}

	if method == http.MethodDelete {
		_, err := decodeEnvelope[json.RawMessage](resp)
		return zero, err
	}
	return decodeEnvelope[T](resp)
}
