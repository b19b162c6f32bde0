// Package bus fans progress events out to live subscribers, keyed by
// task. Delivery is best-effort and ephemeral: events published before
// a subscriber attaches are not replayed (the streaming gateway covers
// that gap with a task store snapshot). Events for one task reach each
// subscriber in publish order.
package bus

import (
	"context"

	"github.com/supoclip/api/internal/model"
)

// Bus is the progress publish/subscribe channel
type Bus interface {
	Publish(ctx context.Context, event model.ProgressEvent) error
	Subscribe(ctx context.Context, taskID string) (Subscription, error)
}

// Subscription is a live handle on one task's event stream
type Subscription interface {
	// Events yields events in publish order. The channel is closed
	// when the subscription is closed or the backend drops it.
	Events() <-chan model.ProgressEvent
	Close() error
}
