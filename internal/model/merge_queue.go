package model

import "time"

// MergeQueueStatus is the partition key for merge queue entries
type MergeQueueStatus string

const (
	MergeQueued  MergeQueueStatus = "queued"
	MergeMerging MergeQueueStatus = "merging"
)

// MergeQueueKeys returns the merge queue partitions
func MergeQueueKeys() []string {
	return []string{string(MergeQueued), string(MergeMerging)}
}

// MergeQueueEntry is a workspace waiting to be merged
type MergeQueueEntry struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	WorkspaceID   string           `json:"workspace_id"`
	RepoID        string           `json:"repo_id"`
	QueuedAt      time.Time        `json:"queued_at"`
	Status        MergeQueueStatus `json:"status"`
	CommitMessage string           `json:"commit_message"`
}

func (m MergeQueueEntry) EntityID() string     { return m.ID }
func (m MergeQueueEntry) PartitionKey() string { return string(m.Status) }
