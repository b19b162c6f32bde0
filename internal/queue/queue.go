// Package queue wraps asynq, the durable Redis-backed work queue that
// drives pipeline execution. Delivery is at-least-once: a job whose
// worker dies mid-stage is redelivered after the visibility deadline,
// and the worker resumes from the task's last persisted status.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeVideoProcess is the asynq task type for the clip pipeline
	TaskTypeVideoProcess = "video:process"

	// QueueVideo is the asynq queue pipeline jobs are routed to
	QueueVideo = "video"
)

// ProcessPayload is the queue-level payload. It carries only the task
// id; the task row in the store is the source of truth for everything
// else, which is what makes status-driven resume work.
type ProcessPayload struct {
	TaskID string `json:"taskId"`
}

// NewProcessTask builds the asynq task for one processing job
func NewProcessTask(taskID string) (*asynq.Task, error) {
	data, err := json.Marshal(ProcessPayload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVideoProcess, data), nil
}

// Client enqueues pipeline jobs
type Client struct {
	asynq    *asynq.Client
	maxRetry int
	timeout  time.Duration
}

func NewClient(asynqClient *asynq.Client, maxRetry int, timeout time.Duration) *Client {
	return &Client{
		asynq:    asynqClient,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// Enqueue durably queues a processing job for the task and returns the
// queue-level job id. Unique suppresses accidental double-enqueues of
// the same task within the retention window, which keeps at most one
// job active per task.
func (c *Client) Enqueue(ctx context.Context, taskID string) (string, error) {
	task, err := NewProcessTask(taskID)
	if err != nil {
		return "", fmt.Errorf("build task: %w", err)
	}

	info, err := c.asynq.EnqueueContext(ctx, task,
		asynq.Queue(QueueVideo),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
		asynq.Unique(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return info.ID, nil
}
