package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supoclip/api/internal/client"
	"github.com/supoclip/api/internal/model"
	"github.com/supoclip/api/internal/queue"
	"github.com/supoclip/api/internal/repository"
)

// fakeTasks records every call routed through the TaskManager, in order
type fakeTasks struct {
	task *model.Task

	statuses   []model.TaskStatus
	failures   []string
	mediaPaths []string
	scripts    []string
	highlights [][]model.Highlight
	clips      []model.Clip
}

func (f *fakeTasks) Get(_ context.Context, taskID string) (*model.Task, error) {
	if f.task == nil || f.task.ID != taskID {
		return nil, repository.ErrTaskNotFound
	}
	cp := *f.task
	return &cp, nil
}

func (f *fakeTasks) Progress(_ context.Context, _ string, status model.TaskStatus, _ string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeTasks) Fail(_ context.Context, _ string, errMsg string) error {
	f.statuses = append(f.statuses, model.TaskStatusFailed)
	f.failures = append(f.failures, errMsg)
	return nil
}

func (f *fakeTasks) SaveArtifacts(_ context.Context, _ string, mediaPath, transcript string) error {
	if mediaPath != "" {
		f.mediaPaths = append(f.mediaPaths, mediaPath)
	}
	if transcript != "" {
		f.scripts = append(f.scripts, transcript)
	}
	return nil
}

func (f *fakeTasks) SaveHighlights(_ context.Context, _ string, highlights []model.Highlight) error {
	f.highlights = append(f.highlights, highlights)
	return nil
}

func (f *fakeTasks) SaveClips(_ context.Context, _ string, clips []model.Clip) error {
	f.clips = append(f.clips, clips...)
	return nil
}

type fakeDownloader struct {
	calls int
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, _ model.Source) (*client.DownloadResult, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &client.DownloadResult{FilePath: "/scratch/media.mp4", Title: "test video", Duration: 120}, nil
}

type fakeTranscriber struct {
	calls int
	err   error
}

func (tr *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	tr.calls++
	if tr.err != nil {
		return "", tr.err
	}
	return "[0.0-5.0] hello world", nil
}

func (tr *fakeTranscriber) IsConfigured() bool { return true }

type fakeAnalyzer struct {
	calls int
	err   error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ string) ([]model.Highlight, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return []model.Highlight{
		{StartTime: 0, EndTime: 15, Text: "hello world", Relevance: 0.9},
		{StartTime: 40, EndTime: 58, Text: "key moment", Relevance: 0.7},
	}, nil
}

func (a *fakeAnalyzer) IsConfigured() bool { return true }

type fakeRenderer struct {
	calls int
	last  *client.RenderClipsRequest
	err   error
}

func (r *fakeRenderer) RenderClips(_ context.Context, req *client.RenderClipsRequest) ([]client.RenderedClip, error) {
	r.calls++
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	clips := make([]client.RenderedClip, 0, len(req.Segments))
	for i, seg := range req.Segments {
		clips = append(clips, client.RenderedClip{
			FilePath:  "/clips/clip_" + string(rune('a'+i)) + ".mp4",
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Caption:   seg.Caption,
		})
	}
	return clips, nil
}

func newTestWorker(tasks *fakeTasks) (*VideoWorker, *fakeDownloader, *fakeTranscriber, *fakeAnalyzer, *fakeRenderer) {
	d := &fakeDownloader{}
	tr := &fakeTranscriber{}
	a := &fakeAnalyzer{}
	r := &fakeRenderer{}
	return NewVideoWorker(tasks, d, tr, a, r), d, tr, a, r
}

func queuedTask(id string) *model.Task {
	return &model.Task{
		ID:          id,
		Status:      model.TaskStatusQueued,
		Source:      model.Source{URL: "https://youtu.be/abc", Type: "youtube"},
		FontOptions: model.DefaultFontOptions(),
	}
}

func processTask(t *testing.T, taskID string) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessTask(taskID)
	require.NoError(t, err)
	return task
}

func TestProcessTaskFullPipeline(t *testing.T) {
	tasks := &fakeTasks{task: queuedTask("t1")}
	w, d, tr, a, r := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.NoError(t, err)

	assert.Equal(t, []model.TaskStatus{
		model.TaskStatusDownloading,
		model.TaskStatusTranscribing,
		model.TaskStatusAnalyzing,
		model.TaskStatusGeneratingClips,
		model.TaskStatusCompleted,
	}, tasks.statuses)

	assert.Equal(t, 1, d.calls)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, r.calls)

	// artifacts persisted as each stage completes
	assert.Equal(t, []string{"/scratch/media.mp4"}, tasks.mediaPaths)
	assert.Equal(t, []string{"[0.0-5.0] hello world"}, tasks.scripts)
	require.Len(t, tasks.highlights, 1)

	require.Len(t, tasks.clips, 2)
	assert.Equal(t, 0, tasks.clips[0].Seq)
	assert.Equal(t, 1, tasks.clips[1].Seq)
	assert.Equal(t, 0.9, tasks.clips[0].Relevance)

	// caption styling flows from the task record into the render call
	assert.Equal(t, "TikTokSans-Regular", r.last.FontFamily)
	assert.Equal(t, 24, r.last.FontSize)
	assert.Equal(t, "#FFFFFF", r.last.FontColor)
}

func TestProcessTaskResumesFromTranscribe(t *testing.T) {
	task := queuedTask("t1")
	task.Status = model.TaskStatusTranscribing
	task.MediaPath = "/scratch/media.mp4"
	tasks := &fakeTasks{task: task}
	w, d, tr, _, _ := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.NoError(t, err)

	// the download stage is skipped, its artifact is already on disk
	assert.Equal(t, 0, d.calls)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, []model.TaskStatus{
		model.TaskStatusTranscribing,
		model.TaskStatusAnalyzing,
		model.TaskStatusGeneratingClips,
		model.TaskStatusCompleted,
	}, tasks.statuses)
}

func TestProcessTaskWalksBackWhenArtifactMissing(t *testing.T) {
	// status says analyzing, but the transcript was never persisted:
	// resume must back up to the transcribe stage, and from there to
	// download since the media path is gone too
	task := queuedTask("t1")
	task.Status = model.TaskStatusAnalyzing
	tasks := &fakeTasks{task: task}
	w, d, tr, _, _ := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.NoError(t, err)

	assert.Equal(t, 1, d.calls)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, model.TaskStatusCompleted, tasks.statuses[len(tasks.statuses)-1])
}

func TestProcessTaskTerminalRedelivery(t *testing.T) {
	task := queuedTask("t1")
	task.Status = model.TaskStatusCompleted
	task.Progress = 100
	tasks := &fakeTasks{task: task}
	w, d, _, _, _ := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.NoError(t, err)

	// acked with no side effects: no stage runs, no event re-emitted
	assert.Equal(t, 0, d.calls)
	assert.Empty(t, tasks.statuses)
}

func TestProcessTaskClientFaultFailsFast(t *testing.T) {
	tasks := &fakeTasks{task: queuedTask("t1")}
	w, _, _, a, r := newTestWorker(tasks)
	a.err = &client.APIError{Service: "Groq", StatusCode: http.StatusUnprocessableEntity, Body: "transcript too short"}

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, 0, r.calls)
	require.Len(t, tasks.failures, 1)
	assert.Contains(t, tasks.failures[0], "analyze failed")
	assert.Equal(t, model.TaskStatusFailed, tasks.statuses[len(tasks.statuses)-1])
}

func TestProcessTaskTransientErrorRetries(t *testing.T) {
	tasks := &fakeTasks{task: queuedTask("t1")}
	w, d, _, _, _ := newTestWorker(tasks)
	d.err = errors.New("connection refused")

	err := w.ProcessTask(context.Background(), processTask(t, "t1"))
	require.Error(t, err)

	// transient failures go back to the queue for backoff retry
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, tasks.failures)
}

func TestProcessTaskUnknownTask(t *testing.T) {
	tasks := &fakeTasks{}
	w, _, _, _, _ := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), processTask(t, "ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskMalformedPayload(t *testing.T) {
	tasks := &fakeTasks{}
	w, _, _, _, _ := newTestWorker(tasks)

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeVideoProcess, []byte("not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
