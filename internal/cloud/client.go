// Package cloud is the narrow cloud controller client the steps and hooks
// use to run one-off tasks on applications.
package cloud

import (
	"context"
	"time"
)

// Client runs and inspects application tasks.
type Client interface {
	RunTask(ctx context.Context, appGUID string, req TaskRequest) (*Task, error)
	GetTask(ctx context.Context, taskGUID string) (*Task, error)
}

// TaskState is the lifecycle state reported by the controller.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCanceling TaskState = "CANCELING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
)

// Terminal reports whether the task will not change state again.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// TaskRequest is the body of a run-task call.
type TaskRequest struct {
	Name     string `json:"name,omitempty"`
	Command  string `json:"command"`
	MemoryMB int    `json:"memory_in_mb,omitempty"`
	DiskMB   int    `json:"disk_in_mb,omitempty"`
}

// Task is a task as returned by the controller.
type Task struct {
	GUID      string     `json:"guid"`
	Name      string     `json:"name"`
	Command   string     `json:"command,omitempty"`
	State     TaskState  `json:"state"`
	MemoryMB  int        `json:"memory_in_mb,omitempty"`
	DiskMB    int        `json:"disk_in_mb,omitempty"`
	Result    TaskResult `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskResult carries the failure reason of a FAILED task.
type TaskResult struct {
	FailureReason string `json:"failure_reason,omitempty"`
}
