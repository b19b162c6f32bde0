package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/supoclip/api/internal/bus"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/metrics"
	"github.com/supoclip/api/internal/model"
)

// TaskStore is the durable task record contract
type TaskStore interface {
	Create(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, taskID string) (*model.Task, error)
	UpdateProgress(ctx context.Context, taskID string, status model.TaskStatus, progress int, message string) (bool, error)
	SetArtifacts(ctx context.Context, taskID, mediaPath, transcript string) error
	SetHighlights(ctx context.Context, taskID string, highlights []model.Highlight) error
	AppendClips(ctx context.Context, taskID string, clips []model.Clip) error
	ListClips(ctx context.Context, taskID string) ([]model.Clip, error)
}

// Enqueuer queues a durable processing job for a task
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) (string, error)
}

// ErrQueueUnavailable wraps failures to hand a job to the queue, so
// handlers can report them distinctly from store errors
var ErrQueueUnavailable = errors.New("job queue unavailable")

// TaskService creates tasks, hands them to the job queue, and is the
// single write path for progress: persist to the store first, then
// broadcast on the bus, and only when the store accepted the write.
type TaskService struct {
	store TaskStore
	queue Enqueuer
	bus   bus.Bus
}

func NewTaskService(store TaskStore, queue Enqueuer, b bus.Bus) *TaskService {
	return &TaskService{
		store: store,
		queue: queue,
		bus:   b,
	}
}

// Create inserts the task record and enqueues its job as one logical
// operation. The response returns before any pipeline work starts.
// If the enqueue fails, the task is marked failed rather than left
// queued with no backing job.
func (s *TaskService) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.CreateTaskResponse, error) {
	source := req.Source
	if source.Type == "" {
		source.Type = detectSourceType(source.URL)
	}

	fontOptions := model.DefaultFontOptions()
	if req.FontOptions != nil {
		if req.FontOptions.Family != "" {
			fontOptions.Family = req.FontOptions.Family
		}
		if req.FontOptions.Size != 0 {
			fontOptions.Size = req.FontOptions.Size
		}
		if req.FontOptions.Color != "" {
			fontOptions.Color = req.FontOptions.Color
		}
	}

	task := &model.Task{
		ID:          uuid.New().String(),
		Status:      model.TaskStatusQueued,
		Progress:    0,
		Source:      source,
		FontOptions: fontOptions,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	jobID, err := s.queue.Enqueue(ctx, task.ID)
	if err != nil {
		// The row exists but nothing will ever run it. Fail it now so
		// callers and stream subscribers see a terminal state.
		if failErr := s.Fail(ctx, task.ID, fmt.Sprintf("failed to queue job: %v", err)); failErr != nil {
			log := logger.WithTaskID(task.ID)
			log.Error().Err(failErr).Msg("failed to mark unqueued task failed, task stuck in queued")
		}
		return nil, fmt.Errorf("enqueue job: %w: %v", ErrQueueUnavailable, err)
	}

	metrics.TasksCreatedTotal.Inc()
	log := logger.WithTaskID(task.ID)
	log.Info().Str("job_id", jobID).Str("source_type", source.Type).Msg("task created")

	return &model.CreateTaskResponse{
		TaskID:    task.ID,
		JobID:     jobID,
		Status:    model.TaskStatusQueued,
		CreatedAt: task.CreatedAt,
	}, nil
}

// Get returns the task snapshot
func (s *TaskService) Get(ctx context.Context, taskID string) (*model.Task, error) {
	return s.store.Get(ctx, taskID)
}

// ListClips returns the generated clips for a task
func (s *TaskService) ListClips(ctx context.Context, taskID string) ([]model.Clip, error) {
	if _, err := s.store.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListClips(ctx, taskID)
}

// Progress moves the task to the given status at its fixed checkpoint
// percentage and broadcasts the event. The store's guard makes this
// idempotent: a duplicate or stale write changes nothing and is not
// re-broadcast.
func (s *TaskService) Progress(ctx context.Context, taskID string, status model.TaskStatus, message string) error {
	return s.progress(ctx, taskID, status, status.Checkpoint(), message)
}

// Fail moves the task to failed, recording the error message
func (s *TaskService) Fail(ctx context.Context, taskID string, errMsg string) error {
	return s.progress(ctx, taskID, model.TaskStatusFailed, 0, errMsg)
}

func (s *TaskService) progress(ctx context.Context, taskID string, status model.TaskStatus, progress int, message string) error {
	changed, err := s.store.UpdateProgress(ctx, taskID, status, progress, message)
	if err != nil {
		return err
	}
	if !changed {
		log := logger.WithTaskID(taskID)
		log.Debug().Str("status", string(status)).Msg("progress write suppressed")
		return nil
	}

	if status.IsTerminal() {
		metrics.TasksFinishedTotal.WithLabelValues(string(status)).Inc()
	}

	event := model.ProgressEvent{
		TaskID:    taskID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		// The store write is the source of truth; losing a broadcast
		// degrades liveness, not correctness.
		log := logger.WithTaskID(taskID)
		log.Warn().Err(err).Msg("progress broadcast failed")
	}
	return nil
}

// SaveArtifacts records stage outputs used by status-driven resume
func (s *TaskService) SaveArtifacts(ctx context.Context, taskID, mediaPath, transcript string) error {
	return s.store.SetArtifacts(ctx, taskID, mediaPath, transcript)
}

// SaveHighlights records the analyzer output for resume
func (s *TaskService) SaveHighlights(ctx context.Context, taskID string, highlights []model.Highlight) error {
	return s.store.SetHighlights(ctx, taskID, highlights)
}

// SaveClips persists the generated clips
func (s *TaskService) SaveClips(ctx context.Context, taskID string, clips []model.Clip) error {
	return s.store.AppendClips(ctx, taskID, clips)
}

func detectSourceType(url string) string {
	if strings.Contains(url, "youtube.com/") || strings.Contains(url, "youtu.be/") {
		return "youtube"
	}
	return "upload"
}
