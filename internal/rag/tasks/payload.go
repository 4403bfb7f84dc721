// Package tasks implements the asynchronous knowledge-add task queue and the
// periodic reindex scheduler, grounded on original_source/utils/task_queue.py
// and original_source/utils/scheduler.py, re-expressed as a bounded Go
// worker pool and a time.Ticker-driven singleton scheduler.
package tasks

// Payload is one knowledge-add request handed to the queue, mirroring
// task_queue.py's KnowledgeTaskPayload.
type Payload struct {
	TaskID     string
	Content    string
	Title      string
	Category   string
	GroupNames []string
	Tenant     string
	IsPublic   bool
}

// Status is the task lifecycle state persisted alongside each task row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)
