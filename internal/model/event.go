package model

import "time"

// ProgressEvent is broadcast on the progress bus at each stage
// transition. It is transient: nothing beyond the task row's own
// status/progress/message fields survives it.
type ProgressEvent struct {
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
