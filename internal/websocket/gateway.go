// Package websocket turns a progress bus subscription into a
// long-lived client-facing event stream. Each connection gets a
// synthetic status snapshot first (covering anything published before
// it attached), then forwarded bus events, then a close event once a
// terminal status is observed.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/supoclip/api/internal/bus"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/metrics"
	"github.com/supoclip/api/internal/model"
	"github.com/supoclip/api/internal/repository"
)

// TaskReader reads the task snapshot sent at subscribe time
type TaskReader interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
}

// Gateway drives one websocket stream per subscribed client
type Gateway struct {
	tasks        TaskReader
	bus          bus.Bus
	idleTimeout  time.Duration
	pingInterval time.Duration
}

func NewGateway(tasks TaskReader, b bus.Bus, idleTimeout, pingInterval time.Duration) *Gateway {
	return &Gateway{
		tasks:        tasks,
		bus:          b,
		idleTimeout:  idleTimeout,
		pingInterval: pingInterval,
	}
}

// sendFunc delivers one event to the client
type sendFunc func(v interface{}) error

// HandleConnection handles a WebSocket connection for one task stream
func (g *Gateway) HandleConnection(c *websocket.Conn, taskID string) {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	log := logger.WithTaskID(taskID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []byte, 64)

	// Writer goroutine: drains outgoing messages and keeps the
	// connection alive with pings.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(g.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-out:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader goroutine: its only job is detecting client disconnect
	// (and answering application-level pings) so the subscription is
	// released promptly instead of leaking until the next write.
	go func() {
		defer cancel()
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == model.WSEventPing {
				data, _ := json.Marshal(model.WSMessage{Type: model.WSEventPong})
				select {
				case out <- data:
				default:
				}
			}
		}
	}()

	err := g.stream(ctx, taskID, func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		select {
		case out <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("stream ended with error")
	}

	close(out)
	<-writerDone
}

// stream is the gateway core: subscribe, snapshot, forward, close.
// The subscription is opened before the snapshot read so no event can
// fall between the two.
func (g *Gateway) stream(ctx context.Context, taskID string, send sendFunc) error {
	sub, err := g.bus.Subscribe(ctx, taskID)
	if err != nil {
		_ = send(model.WSCloseMessage{Type: model.WSEventClose, TaskID: taskID, Error: "subscription unavailable"})
		return err
	}
	defer sub.Close()

	task, err := g.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			_ = send(model.WSCloseMessage{Type: model.WSEventClose, TaskID: taskID, Error: "task not found"})
			return nil
		}
		return err
	}

	if err := send(model.WSStatusMessage{
		Type:     model.WSEventStatus,
		TaskID:   taskID,
		Status:   task.Status,
		Progress: task.Progress,
		Message:  task.ProgressMessage,
	}); err != nil {
		return err
	}

	if task.Status.IsTerminal() {
		return send(closeMessage(taskID, task.Status, task.ProgressMessage))
	}

	// Bounded wait for a terminal event; not reset on intermediate
	// progress, it caps the whole stream.
	idle := time.NewTimer(g.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-sub.Events():
			if !ok {
				// Backend dropped the subscription; the client must
				// re-subscribe and recover from a fresh snapshot.
				_ = send(model.WSCloseMessage{Type: model.WSEventClose, TaskID: taskID, Error: "subscription lost"})
				return nil
			}
			if err := send(model.WSProgressMessage{
				Type:     model.WSEventProgress,
				TaskID:   taskID,
				Status:   event.Status,
				Progress: event.Progress,
				Message:  event.Message,
			}); err != nil {
				return err
			}
			if event.Status.IsTerminal() {
				return send(closeMessage(taskID, event.Status, event.Message))
			}

		case <-idle.C:
			return send(model.WSCloseMessage{
				Type:   model.WSEventClose,
				TaskID: taskID,
				Error:  "timed out waiting for a terminal status",
			})
		}
	}
}

func closeMessage(taskID string, status model.TaskStatus, message string) model.WSCloseMessage {
	msg := model.WSCloseMessage{
		Type:   model.WSEventClose,
		TaskID: taskID,
		Status: status,
	}
	if status == model.TaskStatusFailed {
		msg.Error = message
	}
	return msg
}
