package model

import "time"

// TaskStatus is the partition key for tasks
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "inprogress"
	StatusInReview   TaskStatus = "inreview"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every board column in display order
var TaskStatuses = []TaskStatus{StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusCancelled}

// StatusKeys returns TaskStatuses as plain partition keys
func StatusKeys() []string {
	keys := make([]string, len(TaskStatuses))
	for i, s := range TaskStatuses {
		keys[i] = string(s)
	}
	return keys
}

// Valid reports whether s is a known status
func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Task is a board task together with its attempt summary, as served by the
// list endpoint and the task stream.
type Task struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Title             string     `json:"title"`
	Description       *string    `json:"description"`
	Status            TaskStatus `json:"status"`
	ParentWorkspaceID *string    `json:"parent_workspace_id"`
	SharedTaskID      *string    `json:"shared_task_id"`
	TaskGroupID       *string    `json:"task_group_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	HasInProgressAttempt bool   `json:"has_in_progress_attempt"`
	LastAttemptFailed    bool   `json:"last_attempt_failed"`
	IsBlocked            bool   `json:"is_blocked"`
	IsQueued             bool   `json:"is_queued"`
	Executor             string `json:"executor"`
}

func (t Task) EntityID() string     { return t.ID }
func (t Task) PartitionKey() string { return string(t.Status) }

// CreateTask is the POST /api/tasks body
type CreateTask struct {
	ProjectID         string      `json:"project_id"`
	Title             string      `json:"title"`
	Description       *string     `json:"description,omitempty"`
	Status            *TaskStatus `json:"status,omitempty"`
	ParentWorkspaceID *string     `json:"parent_workspace_id,omitempty"`
	TaskGroupID       *string     `json:"task_group_id,omitempty"`
}
