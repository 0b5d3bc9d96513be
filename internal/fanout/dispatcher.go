package fanout

import (
	"encoding/json"

	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/topic"
	"go.uber.org/zap"
)

// Dispatcher fans an event out to a topic's current subscribers. The
// payload is marshalled once before the first send; delivery is
// best-effort and a failed send never aborts delivery to the rest.
type Dispatcher struct {
	logger   *zap.Logger
	registry Registry
	onEvict  func(*Connection)
}

func NewDispatcher(logger *zap.Logger, registry Registry) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		registry: registry,
	}
}

// OnEvict installs the cleanup hook for subscribers dropped after a
// queue overflow. The hook owns deregistration and any "left" side
// effects; without one the dispatcher only deregisters. Must be set
// before the dispatcher is handed to concurrent callers.
func (d *Dispatcher) OnEvict(hook func(*Connection)) {
	d.onEvict = hook
}

func (d *Dispatcher) Broadcast(key topic.Key, payload event.Payload) {
	d.broadcast(key, payload, "")
}

// BroadcastTarget delivers only to subscribers whose bound identity
// matches targetUserID. Used for addressed WebRTC signaling.
func (d *Dispatcher) BroadcastTarget(key topic.Key, targetUserID string, payload event.Payload) {
	d.broadcast(key, payload, targetUserID)
}

func (d *Dispatcher) broadcast(key topic.Key, payload event.Payload, targetUserID string) {
	frame, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal event payload",
			zap.String("topic", key.String()),
			zap.String("event", string(payload.EventType())),
			zap.Error(err))
		return
	}

	var stale []*Connection

	for _, conn := range d.registry.Subscribers(key) {
		if targetUserID != "" && conn.Identity.UserID != targetUserID {
			continue
		}

		if !conn.enqueue(frame) {
			d.logger.Warn("send queue full or connection gone, dropping subscriber",
				zap.String("connectionId", conn.ID),
				zap.String("topic", key.String()))

			stale = append(stale, conn)
		}
	}

	for _, conn := range stale {
		if d.onEvict != nil {
			d.onEvict(conn)
			continue
		}
		d.registry.Deregister(conn.ID)
	}
}

// SendTo delivers an event to a single connection, outside of any topic.
// Used for error frames echoed back to the sender only.
func (d *Dispatcher) SendTo(conn *Connection, payload event.Payload) {
	frame, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal event payload",
			zap.String("event", string(payload.EventType())),
			zap.Error(err))
		return
	}

	if !conn.enqueue(frame) {
		d.logger.Warn("direct send failed, connection gone",
			zap.String("connectionId", conn.ID))
	}
}
