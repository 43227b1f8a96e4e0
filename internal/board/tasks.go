package board

import (
	"context"
	"time"

	"github.com/erauner12/taskboard-sync/internal/model"
)

// TaskScope is a Scope of a project's tasks with task-shaped helpers
type TaskScope struct {
	*Scope[model.Task]
	projectID string
	now       func() time.Time
}

// CreateTask shows the task in its column right away and replaces it with
// the server's task once created. Submitting the same title again while the
// first is in flight is ignored.
func (s *TaskScope) CreateTask(ctx context.Context, in model.CreateTask) (model.Task, error) {
	if in.ProjectID == "" {
		in.ProjectID = s.projectID
	}
	status := model.StatusTodo
	if in.Status != nil {
		status = *in.Status
	}

	draft := func(tempID string) model.Task {
		now := s.now().UTC()
		return model.Task{
			ID:                tempID,
			ProjectID:         in.ProjectID,
			Title:             in.Title,
			Description:       in.Description,
			Status:            status,
			ParentWorkspaceID: in.ParentWorkspaceID,
			TaskGroupID:       in.TaskGroupID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}
	return s.Create(ctx, "create:"+in.Title, draft, in)
}

// MoveTask changes a task's status, moving it between columns
func (s *TaskScope) MoveTask(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	return s.Update(ctx, id, map[string]any{"status": status})
}

// Column returns the tasks of one status in display order
func (s *TaskScope) Column(status model.TaskStatus) []model.Task {
	v, _ := s.View(string(status))
	return v.Items
}
