package boardsim

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/syncx"
)

// Collection is the patch path prefix the simulator streams
const Collection = "tasks"

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrMissingTitle  = errors.New("title is required")
	ErrMissingScope  = errors.New("project_id is required")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidFields = errors.New("invalid fields")
)

// readOnlyFields cannot be changed through Update
var readOnlyFields = []string{"id", "project_id", "created_at", "updated_at"}

// Board is an in-memory task repository. Every write is broadcast to the
// project's stream subscribers while the board lock is held, so patch
// order matches write order.
type Board struct {
	hub    *Hub
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]model.Task
}

// NewBoard creates an empty board publishing through hub
func NewBoard(hub *Hub) *Board {
	return &Board{
		hub:    hub,
		logger: log.Logger.With().Str("component", "boardsim.board").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]model.Task),
	}
}

// ListQuery selects one page of a project's tasks
type ListQuery struct {
	ProjectID string
	Status    model.TaskStatus // empty means every status
	OrderBy   model.OrderBy
	Offset    int
	Limit     int
}

// List returns one page and the number of matching tasks
func (b *Board) List(q ListQuery) ([]model.Task, int) {
	b.mu.Lock()
	matched := make([]model.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		if t.ProjectID != q.ProjectID {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		matched = append(matched, t)
	}
	b.mu.Unlock()

	slices.SortFunc(matched, model.CompareTasks(q.OrderBy))

	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return matched[start:end], total
}

// Get looks up a task by id
func (b *Board) Get(id string) (model.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	return t, ok
}

// Create stores a new task and streams an add
func (b *Board) Create(in model.CreateTask) (model.Task, error) {
	if in.ProjectID == "" {
		return model.Task{}, ErrMissingScope
	}
	if strings.TrimSpace(in.Title) == "" {
		return model.Task{}, ErrMissingTitle
	}
	status := model.StatusTodo
	if in.Status != nil {
		if !in.Status.Valid() {
			return model.Task{}, fmt.Errorf("%w: %s", ErrInvalidStatus, *in.Status)
		}
		status = *in.Status
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	t := model.Task{
		ID:                uuid.NewString(),
		ProjectID:         in.ProjectID,
		Title:             in.Title,
		Description:       in.Description,
		Status:            status,
		ParentWorkspaceID: in.ParentWorkspaceID,
		TaskGroupID:       in.TaskGroupID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	b.tasks[t.ID] = t

	op, err := syncx.Add(Collection, t.ID, t)
	if err != nil {
		return model.Task{}, err
	}
	b.publishLocked(t.ProjectID, op)
	return t, nil
}

// Update merges fields (wire names) into a task and streams a replace
func (b *Board) Update(id string, fields map[string]any) (model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}

	patch := make(map[string]any, len(fields))
	for k, v := range fields {
		if !slices.Contains(readOnlyFields, k) {
			patch[k] = v
		}
	}
	updated, err := model.MergeFields(t, patch)
	if err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	if !updated.Status.Valid() {
		return model.Task{}, fmt.Errorf("%w: %s", ErrInvalidStatus, updated.Status)
	}
	if strings.TrimSpace(updated.Title) == "" {
		return model.Task{}, ErrMissingTitle
	}
	updated.UpdatedAt = b.now()
	b.tasks[id] = updated

	op, err := syncx.Replace(Collection, id, updated)
	if err != nil {
		return model.Task{}, err
	}
	b.publishLocked(updated.ProjectID, op)
	return updated, nil
}

// Delete removes a task and streams a remove
func (b *Board) Delete(id string) (model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}
	delete(b.tasks, id)
	b.publishLocked(t.ProjectID, syncx.Remove(Collection, id))
	return t, nil
}

// Gantt derives one bar per task of a project
func (b *Board) Gantt(projectID string) []model.GanttItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]model.GanttItem, 0)
	for _, t := range b.tasks {
		if t.ProjectID != projectID {
			continue
		}
		items = append(items, model.GanttItem{
			ID:           t.ID,
			Name:         t.Title,
			Start:        t.CreatedAt,
			End:          t.UpdatedAt.Add(24 * time.Hour),
			Progress:     progress(t.Status),
			Dependencies: []string{},
			TaskStatus:   t.Status,
			TaskGroupID:  t.TaskGroupID,
		})
	}
	slices.SortFunc(items, model.CompareGantt)
	return items
}

// Seed creates n tasks spread across every status, without streaming them
func (b *Board) Seed(projectID string, n int) []model.Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.now().Add(-time.Duration(n) * time.Minute)
	out := make([]model.Task, 0, n)
	for i := range n {
		ts := base.Add(time.Duration(i) * time.Minute)
		t := model.Task{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Title:     fmt.Sprintf("Task %d", i+1),
			Status:    model.TaskStatuses[i%len(model.TaskStatuses)],
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		b.tasks[t.ID] = t
		out = append(out, t)
	}
	b.logger.Info().Str("projectId", projectID).Int("count", n).Msg("seeded tasks")
	return out
}

func (b *Board) publishLocked(projectID string, ops ...syncx.Operation) {
	if b.hub == nil {
		return
	}
	if err := b.hub.Broadcast(projectID, ops); err != nil {
		b.logger.Error().Err(err).Msg("failed to broadcast patch")
	}
}

func progress(s model.TaskStatus) float64 {
	switch s {
	case model.StatusInProgress:
		return 0.5
	case model.StatusInReview:
		return 0.75
	case model.StatusDone:
		return 1
	default:
		return 0
	}
}
