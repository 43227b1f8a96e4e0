package model

import "time"

// GanttItem is one bar of the project gantt view, partitioned by the status of
// the task it represents.
type GanttItem struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	Progress     float64    `json:"progress"`
	Dependencies []string   `json:"dependencies"`
	TaskStatus   TaskStatus `json:"task_status"`
	TaskGroupID  *string    `json:"task_group_id"`
}

func (g GanttItem) EntityID() string     { return g.ID }
func (g GanttItem) PartitionKey() string { return string(g.TaskStatus) }
