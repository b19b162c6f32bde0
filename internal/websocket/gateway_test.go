package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supoclip/api/internal/bus"
	"github.com/supoclip/api/internal/model"
	"github.com/supoclip/api/internal/repository"
)

type fakeTaskReader struct {
	task *model.Task
}

func (f *fakeTaskReader) Get(_ context.Context, taskID string) (*model.Task, error) {
	if f.task == nil || f.task.ID != taskID {
		return nil, repository.ErrTaskNotFound
	}
	cp := *f.task
	return &cp, nil
}

// collect runs stream() in the background and returns every message it
// tried to send, once the stream ends.
func collectStream(t *testing.T, g *Gateway, taskID string, during func(b bus.Bus)) []interface{} {
	t.Helper()

	sent := make(chan interface{}, 64)
	done := make(chan error, 1)
	go func() {
		done <- g.stream(context.Background(), taskID, func(v interface{}) error {
			sent <- v
			return nil
		})
	}()

	if during != nil {
		// give the stream time to subscribe and send the snapshot
		time.Sleep(50 * time.Millisecond)
		during(g.bus)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate")
	}

	close(sent)
	var msgs []interface{}
	for m := range sent {
		msgs = append(msgs, m)
	}
	return msgs
}

func newTestGateway(tasks TaskReader, idleTimeout time.Duration) *Gateway {
	return NewGateway(tasks, bus.NewMemoryBus(), idleTimeout, time.Minute)
}

func TestStreamSnapshotThenEventsThenClose(t *testing.T) {
	task := &model.Task{ID: "t1", Status: model.TaskStatusDownloading, Progress: 10, ProgressMessage: "Downloading video..."}
	g := newTestGateway(&fakeTaskReader{task: task}, time.Minute)

	msgs := collectStream(t, g, "t1", func(b bus.Bus) {
		b.Publish(context.Background(), model.ProgressEvent{TaskID: "t1", Status: model.TaskStatusTranscribing, Progress: 30, Message: "Generating transcript..."})
		b.Publish(context.Background(), model.ProgressEvent{TaskID: "t1", Status: model.TaskStatusCompleted, Progress: 100, Message: "Processing complete!"})
	})

	require.Len(t, msgs, 4)

	snap, ok := msgs[0].(model.WSStatusMessage)
	require.True(t, ok, "first message must be the snapshot")
	assert.Equal(t, model.TaskStatusDownloading, snap.Status)
	assert.Equal(t, 10, snap.Progress)

	prog, ok := msgs[1].(model.WSProgressMessage)
	require.True(t, ok)
	assert.Equal(t, model.TaskStatusTranscribing, prog.Status)

	final, ok := msgs[2].(model.WSProgressMessage)
	require.True(t, ok)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)

	closeMsg, ok := msgs[3].(model.WSCloseMessage)
	require.True(t, ok)
	assert.Equal(t, model.TaskStatusCompleted, closeMsg.Status)
	assert.Empty(t, closeMsg.Error)
}

func TestStreamTerminalSnapshotClosesImmediately(t *testing.T) {
	task := &model.Task{ID: "t1", Status: model.TaskStatusFailed, ProgressMessage: "download failed: boom"}
	g := newTestGateway(&fakeTaskReader{task: task}, time.Minute)

	msgs := collectStream(t, g, "t1", nil)

	require.Len(t, msgs, 2)
	closeMsg, ok := msgs[1].(model.WSCloseMessage)
	require.True(t, ok)
	assert.Equal(t, model.TaskStatusFailed, closeMsg.Status)
	assert.Equal(t, "download failed: boom", closeMsg.Error)
}

func TestStreamUnknownTask(t *testing.T) {
	g := newTestGateway(&fakeTaskReader{}, time.Minute)

	msgs := collectStream(t, g, "ghost", nil)

	require.Len(t, msgs, 1)
	closeMsg, ok := msgs[0].(model.WSCloseMessage)
	require.True(t, ok)
	assert.Equal(t, "task not found", closeMsg.Error)
}

func TestStreamIdleTimeout(t *testing.T) {
	task := &model.Task{ID: "t1", Status: model.TaskStatusAnalyzing, Progress: 50}
	g := newTestGateway(&fakeTaskReader{task: task}, 100*time.Millisecond)

	msgs := collectStream(t, g, "t1", nil)

	require.Len(t, msgs, 2)
	closeMsg, ok := msgs[1].(model.WSCloseMessage)
	require.True(t, ok)
	assert.Contains(t, closeMsg.Error, "timed out")
}

func TestStreamCancelledContext(t *testing.T) {
	task := &model.Task{ID: "t1", Status: model.TaskStatusQueued}
	g := newTestGateway(&fakeTaskReader{task: task}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.stream(ctx, "t1", func(interface{}) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not observe cancellation")
	}
}
