package model

import "time"

// CreateTaskRequest starts a new processing task
type CreateTaskRequest struct {
	Source      Source       `json:"source" validate:"required"`
	FontOptions *FontOptions `json:"fontOptions,omitempty"`
}

// CreateTaskResponse is returned immediately, before any pipeline work
type CreateTaskResponse struct {
	TaskID    string     `json:"taskId"`
	JobID     string     `json:"jobId"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TaskResponse is the task snapshot returned by the status endpoint
type TaskResponse struct {
	TaskID          string     `json:"taskId"`
	Status          TaskStatus `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progressMessage,omitempty"`
	Source          Source     `json:"source"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ClipsResponse lists the clips generated for a task
type ClipsResponse struct {
	TaskID string `json:"taskId"`
	Clips  []Clip `json:"clips"`
}
