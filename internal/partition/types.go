package partition

import (
	"context"

	"github.com/erauner12/taskboard-sync/internal/model"
)

// DefaultPageSize is the per-partition page limit when none is configured
const DefaultPageSize = 25

// ListOptions selects one page of one partition
type ListOptions struct {
	Offset    int
	Limit     int
	Partition string
	OrderBy   model.OrderBy
}

// Page is one list response
type Page[T any] struct {
	Items   []T
	Total   int
	HasMore bool
}

// Lister fetches pages for a scope (a project). Implemented by the REST client.
type Lister[T any] interface {
	List(ctx context.Context, scopeID string, opts ListOptions) (Page[T], error)
}

// ListerFunc adapts a function to Lister
type ListerFunc[T any] func(ctx context.Context, scopeID string, opts ListOptions) (Page[T], error)

func (f ListerFunc[T]) List(ctx context.Context, scopeID string, opts ListOptions) (Page[T], error) {
	return f(ctx, scopeID, opts)
}

// State is the pagination window of one partition.
// Offset is the number of entities materialized locally for the partition;
// Total and HasMore come from the server, adjusted by patch deltas.
type State struct {
	Offset        int
	Total         int
	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool
	Err           error
}

// View is what a consumer renders for one partition
type View[T any] struct {
	Key           string
	Items         []T
	Total         int
	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool
	Err           error
}
