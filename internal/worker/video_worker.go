package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/supoclip/api/internal/client"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/metrics"
	"github.com/supoclip/api/internal/model"
	"github.com/supoclip/api/internal/queue"
	"github.com/supoclip/api/internal/repository"
)

// TaskManager is the slice of the task service the worker needs
type TaskManager interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
	Progress(ctx context.Context, taskID string, status model.TaskStatus, message string) error
	Fail(ctx context.Context, taskID string, errMsg string) error
	SaveArtifacts(ctx context.Context, taskID, mediaPath, transcript string) error
	SaveHighlights(ctx context.Context, taskID string, highlights []model.Highlight) error
	SaveClips(ctx context.Context, taskID string, clips []model.Clip) error
}

// pipeline stages, in execution order
type stage int

const (
	stageDownload stage = iota
	stageTranscribe
	stageAnalyze
	stageRender
)

func (s stage) String() string {
	switch s {
	case stageDownload:
		return "download"
	case stageTranscribe:
		return "transcribe"
	case stageAnalyze:
		return "analyze"
	case stageRender:
		return "generate_clips"
	}
	return "unknown"
}

// VideoWorker runs the clip pipeline for one job at a time. Workers
// hold no state of their own: everything shared lives in the task
// store, the queue, and the progress bus, which is what lets any
// worker pick up a redelivered job.
type VideoWorker struct {
	tasks       TaskManager
	downloader  client.Downloader
	transcriber client.Transcriber
	analyzer    client.Analyzer
	renderer    client.ClipRenderer
}

func NewVideoWorker(tasks TaskManager, downloader client.Downloader, transcriber client.Transcriber, analyzer client.Analyzer, renderer client.ClipRenderer) *VideoWorker {
	return &VideoWorker{
		tasks:       tasks,
		downloader:  downloader,
		transcriber: transcriber,
		analyzer:    analyzer,
		renderer:    renderer,
	}
}

// ProcessTask handles one queue delivery of a processing job. Delivery
// is at-least-once: the persisted task status decides which stage to
// (re)run, so a job redelivered after a crash resumes mid-pipeline
// instead of starting over.
func (w *VideoWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	taskID := payload.TaskID
	log := logger.WithTaskID(taskID)

	task, err := w.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return fmt.Errorf("task %s: %v: %w", taskID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("load task: %w", err)
	}

	if task.Status.IsTerminal() {
		// Redelivery of an already-settled task. Ack without side
		// effects so subscribers never see a duplicate terminal event.
		log.Info().Str("status", string(task.Status)).Msg("job redelivered for terminal task, nothing to do")
		return nil
	}

	if retried, _ := asynq.GetRetryCount(ctx); retried > 0 {
		metrics.JobRetriesTotal.Inc()
		log.Info().Int("attempt", retried+1).Str("status", string(task.Status)).Msg("resuming redelivered job")
	}

	start := resumeStage(task.Status)

	// Walk back past stages whose artifacts are missing (scratch
	// eviction between attempts, or analysis output never persisted).
	if start == stageRender && len(task.Highlights) == 0 {
		start = stageAnalyze
	}
	if start > stageTranscribe && task.Transcript == "" {
		start = stageTranscribe
	}
	if start > stageDownload && task.MediaPath == "" {
		start = stageDownload
	}

	mediaPath := task.MediaPath
	transcript := task.Transcript
	highlights := task.Highlights

	for st := start; st <= stageRender; st++ {
		stageStart := time.Now()

		switch st {
		case stageDownload:
			if err := w.tasks.Progress(ctx, taskID, model.TaskStatusDownloading, "Downloading video..."); err != nil {
				return fmt.Errorf("persist progress: %w", err)
			}
			result, err := w.downloader.Download(ctx, task.Source)
			if err != nil {
				return w.stageFailed(ctx, taskID, st, err)
			}
			mediaPath = result.FilePath
			if err := w.tasks.SaveArtifacts(ctx, taskID, mediaPath, ""); err != nil {
				return fmt.Errorf("save media path: %w", err)
			}

		case stageTranscribe:
			if err := w.tasks.Progress(ctx, taskID, model.TaskStatusTranscribing, "Generating transcript..."); err != nil {
				return fmt.Errorf("persist progress: %w", err)
			}
			transcript, err = w.transcriber.Transcribe(ctx, mediaPath)
			if err != nil {
				return w.stageFailed(ctx, taskID, st, err)
			}
			if err := w.tasks.SaveArtifacts(ctx, taskID, "", transcript); err != nil {
				return fmt.Errorf("save transcript: %w", err)
			}

		case stageAnalyze:
			if err := w.tasks.Progress(ctx, taskID, model.TaskStatusAnalyzing, "Analyzing content with AI..."); err != nil {
				return fmt.Errorf("persist progress: %w", err)
			}
			highlights, err = w.analyzer.Analyze(ctx, transcript)
			if err != nil {
				return w.stageFailed(ctx, taskID, st, err)
			}
			if err := w.tasks.SaveHighlights(ctx, taskID, highlights); err != nil {
				return fmt.Errorf("save highlights: %w", err)
			}

		case stageRender:
			if err := w.tasks.Progress(ctx, taskID, model.TaskStatusGeneratingClips, "Creating video clips..."); err != nil {
				return fmt.Errorf("persist progress: %w", err)
			}
			rendered, err := w.renderer.RenderClips(ctx, &client.RenderClipsRequest{
				MediaPath:  mediaPath,
				Segments:   client.SegmentsFromHighlights(highlights),
				FontFamily: task.FontOptions.Family,
				FontSize:   task.FontOptions.Size,
				FontColor:  task.FontOptions.Color,
			})
			if err != nil {
				return w.stageFailed(ctx, taskID, st, err)
			}

			clips := make([]model.Clip, 0, len(rendered))
			for i, rc := range rendered {
				clips = append(clips, model.Clip{
					ID:        uuid.New().String(),
					TaskID:    taskID,
					Seq:       i,
					FilePath:  rc.FilePath,
					StartTime: rc.StartTime,
					EndTime:   rc.EndTime,
					Caption:   rc.Caption,
					Relevance: relevanceFor(highlights, i),
				})
			}
			// Clips land before the terminal event so a subscriber who
			// sees completed can immediately list a non-empty result.
			if err := w.tasks.SaveClips(ctx, taskID, clips); err != nil {
				return fmt.Errorf("save clips: %w", err)
			}
		}

		metrics.StageDuration.WithLabelValues(st.String()).Observe(time.Since(stageStart).Seconds())
	}

	if err := w.tasks.Progress(ctx, taskID, model.TaskStatusCompleted, "Processing complete!"); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	log.Info().Msg("task completed")
	return nil
}

// resumeStage maps the persisted status to the stage to (re)run. An
// in-flight stage is never assumed complete, so a crash during
// transcription redelivers into transcribe, not analyze.
func resumeStage(status model.TaskStatus) stage {
	switch status {
	case model.TaskStatusTranscribing:
		return stageTranscribe
	case model.TaskStatusAnalyzing:
		return stageAnalyze
	case model.TaskStatusGeneratingClips:
		return stageRender
	default:
		return stageDownload
	}
}

// stageFailed decides between failing fast and consuming the retry
// budget. Client-fault errors (a collaborator rejected our input) are
// not retryable: the task fails immediately and the queue is told not
// to redeliver. Transient errors surface to asynq for backoff retry,
// and the task is marked failed only once the last attempt is spent.
func (w *VideoWorker) stageFailed(ctx context.Context, taskID string, st stage, err error) error {
	msg := fmt.Sprintf("%s failed: %v", st, err)
	log := logger.WithTaskID(taskID)

	if client.IsClientFault(err) {
		log.Error().Err(err).Str("stage", st.String()).Msg("stage failed, not retryable")
		if failErr := w.tasks.Fail(ctx, taskID, msg); failErr != nil {
			log.Error().Err(failErr).Msg("failed to mark task failed")
		}
		return fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
	}

	retried, retriedOK := asynq.GetRetryCount(ctx)
	maxRetry, maxOK := asynq.GetMaxRetry(ctx)
	if retriedOK && maxOK && retried >= maxRetry {
		log.Error().Err(err).Str("stage", st.String()).Int("attempts", retried+1).Msg("stage failed, retry budget exhausted")
		if failErr := w.tasks.Fail(ctx, taskID, msg); failErr != nil {
			log.Error().Err(failErr).Msg("failed to mark task failed")
		}
	} else {
		log.Warn().Err(err).Str("stage", st.String()).Int("attempt", retried+1).Msg("stage failed, will retry")
	}
	return errors.New(msg)
}

func relevanceFor(highlights []model.Highlight, i int) float64 {
	if i < len(highlights) {
		return highlights[i].Relevance
	}
	return 0
}
