package model

import "time"

// TaskStatus tracks a task through the processing pipeline
type TaskStatus string

const (
	TaskStatusQueued          TaskStatus = "queued"
	TaskStatusDownloading     TaskStatus = "downloading"
	TaskStatusTranscribing    TaskStatus = "transcribing"
	TaskStatusAnalyzing       TaskStatus = "analyzing"
	TaskStatusGeneratingClips TaskStatus = "generating_clips"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Checkpoint returns the fixed progress percentage for a status
func (s TaskStatus) Checkpoint() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusDownloading:
		return 10
	case TaskStatusTranscribing:
		return 30
	case TaskStatusAnalyzing:
		return 50
	case TaskStatusGeneratingClips:
		return 70
	case TaskStatusCompleted:
		return 100
	}
	return 0
}

// Source identifies the media to process
type Source struct {
	URL  string `json:"url" validate:"required"`
	Type string `json:"type,omitempty"` // "youtube" or "upload", detected if empty
}

// FontOptions controls caption rendering on generated clips
type FontOptions struct {
	Family string `json:"family,omitempty"`
	Size   int    `json:"size,omitempty" validate:"omitempty,min=8,max=128"`
	Color  string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// DefaultFontOptions returns the caption defaults
func DefaultFontOptions() FontOptions {
	return FontOptions{
		Family: "TikTokSans-Regular",
		Size:   24,
		Color:  "#FFFFFF",
	}
}

// Task represents one end-to-end processing request
type Task struct {
	ID              string      `json:"id"`
	Status          TaskStatus  `json:"status"`
	Progress        int         `json:"progress"`
	ProgressMessage string      `json:"progressMessage,omitempty"`
	Source          Source      `json:"source"`
	FontOptions     FontOptions `json:"fontOptions"`

	// Stage artifacts, persisted so a redelivered job can resume
	// without redoing completed stages.
	MediaPath  string      `json:"-"`
	Transcript string      `json:"-"`
	Highlights []Highlight `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clip is one generated highlight clip, immutable once written
type Clip struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Seq       int       `json:"seq"`
	FilePath  string    `json:"filePath"`
	StartTime float64   `json:"startTime"`
	EndTime   float64   `json:"endTime"`
	Caption   string    `json:"caption,omitempty"`
	Relevance float64   `json:"relevance,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Highlight is a transcript segment the analyzer scored as clip-worthy
type Highlight struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
	Reasoning string  `json:"reasoning,omitempty"`
}
