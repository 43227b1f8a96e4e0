package model

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// OrderBy is the order_by query parameter accepted by the list endpoint
type OrderBy string

const (
	CreatedAtAsc  OrderBy = "created_at_asc"
	CreatedAtDesc OrderBy = "created_at_desc"
	UpdatedAtAsc  OrderBy = "updated_at_asc"
	UpdatedAtDesc OrderBy = "updated_at_desc"

	DefaultOrderBy = CreatedAtDesc
)

// ParseOrderBy accepts the wire names case-insensitively; empty means default
func ParseOrderBy(s string) (OrderBy, error) {
	switch o := OrderBy(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return DefaultOrderBy, nil
	case CreatedAtAsc, CreatedAtDesc, UpdatedAtAsc, UpdatedAtDesc:
		return o, nil
	default:
		return "", fmt.Errorf("invalid order_by %q", s)
	}
}

// CompareTasks returns a slices.SortFunc comparator for the given order.
// Ties fall back to id so views are stable across transitions.
func CompareTasks(order OrderBy) func(a, b Task) int {
	pick := func(t Task) time.Time { return t.CreatedAt }
	if order == UpdatedAtAsc || order == UpdatedAtDesc {
		pick = func(t Task) time.Time { return t.UpdatedAt }
	}
	desc := order == CreatedAtDesc || order == UpdatedAtDesc || order == ""

	return func(a, b Task) int {
		c := pick(a).Compare(pick(b))
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

// CompareGantt orders gantt bars by start date
func CompareGantt(a, b GanttItem) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CompareMergeQueue orders entries first-queued first
func CompareMergeQueue(a, b MergeQueueEntry) int {
	if c := a.QueuedAt.Compare(b.QueuedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
