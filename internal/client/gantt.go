package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/partition"
)

// GanttLister serves gantt items through the partition.Lister contract.
// The gantt endpoint is unpaginated, so each call fetches the whole project
// and slices out one status at the requested offset.
type GanttLister struct {
	http *HTTPClient
}

var _ partition.Lister[model.GanttItem] = (*GanttLister)(nil)

// NewGanttLister creates a lister for GET /api/projects/{id}/gantt
func NewGanttLister(httpClient *HTTPClient) *GanttLister {
	return &GanttLister{http: httpClient}
}

// Fetch returns every gantt item of a project
func (g *GanttLister) Fetch(ctx context.Context, projectID string) ([]model.GanttItem, error) {
	reqURL := fmt.Sprintf("%s/api/projects/%s/gantt", g.http.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound{ID: projectID}
	}
	return decodeEnvelope[[]model.GanttItem](resp)
}

func (g *GanttLister) List(ctx context.Context, scopeID string, opts partition.ListOptions) (partition.Page[model.GanttItem], error) {
	all, err := g.Fetch(ctx, scopeID)
	if err != nil {
		return partition.Page[model.GanttItem]{}, err
	}

	items := make([]model.GanttItem, 0, len(all))
	for _, it := range all {
		if opts.Partition == "" || it.PartitionKey() == opts.Partition {
			items = append(items, it)
		}
	}
	slices.SortFunc(items, model.CompareGantt)

	total := len(items)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	return partition.Page[model.GanttItem]{
		Items:   items[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}
