package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supoclip/api/internal/model"
)

func progressMessage(t *testing.T, event model.ProgressEvent) *redis.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &redis.Message{Channel: channelFor(event.TaskID), Payload: string(data)}
}

func TestRedisPumpForwardsEvents(t *testing.T) {
	sub := &redisSubscription{events: make(chan model.ProgressEvent, 16)}
	msgs := make(chan *redis.Message, 4)

	go sub.pump("t1", msgs)

	want := model.ProgressEvent{TaskID: "t1", Status: model.TaskStatusDownloading, Progress: 10}
	msgs <- progressMessage(t, want)
	msgs <- &redis.Message{Channel: channelFor("t1"), Payload: "not json"}
	msgs <- progressMessage(t, model.ProgressEvent{TaskID: "t1", Status: model.TaskStatusCompleted, Progress: 100})
	close(msgs)

	got := <-sub.Events()
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Progress, got.Progress)

	// malformed payload skipped, next valid event comes through
	got = <-sub.Events()
	assert.Equal(t, model.TaskStatusCompleted, got.Status)

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel must close when the broker stream ends")
}

func TestRedisPumpDropsSlowSubscriber(t *testing.T) {
	sub := &redisSubscription{events: make(chan model.ProgressEvent, 2)}
	msgs := make(chan *redis.Message)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.pump("t1", msgs)
	}()

	// fill the buffer, then one more without draining
	for i := 0; i < 3; i++ {
		msgs <- progressMessage(t, model.ProgressEvent{TaskID: "t1", Status: model.TaskStatusDownloading, Progress: 10})
	}

	// the pump must give up instead of parking on the full channel
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump still blocked on a full subscriber buffer")
	}

	received := 0
	for range sub.Events() {
		received++
	}
	assert.Equal(t, 2, received)
}
