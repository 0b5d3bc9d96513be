package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/fanout"
	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/notify"
	"github.com/chattingus/realtime/internal/store"
	"github.com/chattingus/realtime/internal/topic"
	"go.uber.org/zap"
)

const sideChannelTimeout = 15 * time.Second

// viewerMilestones are the thresholds that earn the streamer a
// milestone notification when the live viewer count crosses them.
var viewerMilestones = []int{10, 50, 100, 500, 1000, 5000, 10000}

// Coordinator is the entry point for everything that triggers fan-out.
// Its discipline is persist first, broadcast second: no event leaves
// this layer without a committed row behind it, and a persistence
// failure surfaces to the originating connection only.
type Coordinator struct {
	logger      *zap.Logger
	store       store.Store
	registry    fanout.Registry
	dispatcher  *fanout.Dispatcher
	preferences *notify.PreferenceCache
	push        notify.PushSender
	email       notify.EmailSender

	sideChannels sync.WaitGroup
}

func New(
	logger *zap.Logger,
	st store.Store,
	registry fanout.Registry,
	dispatcher *fanout.Dispatcher,
	preferences *notify.PreferenceCache,
	push notify.PushSender,
	email notify.EmailSender,
) *Coordinator {
	c := &Coordinator{
		logger:      logger,
		store:       st,
		registry:    registry,
		dispatcher:  dispatcher,
		preferences: preferences,
		push:        push,
		email:       email,
	}

	// An overflowed subscriber is a disconnect like any other: its
	// topics still owe the "left" side effects.
	dispatcher.OnEvict(c.onEvicted)

	return c
}

func (c *Coordinator) onEvicted(conn *fanout.Connection) {
	c.logger.Warn("evicting stale connection",
		zap.String("connectionId", conn.ID),
		zap.String("userId", conn.Identity.UserID))

	c.OnDisconnect(context.Background(), conn)
}

// OnChatMessageSent persists the message then broadcasts it to the
// room, sender included. The broadcast payload carries the persisted
// row id so clients can deduplicate.
func (c *Coordinator) OnChatMessageSent(ctx context.Context, conn *fanout.Connection, roomID, content, messageType string) (store.Message, error) {
	if messageType == "" {
		messageType = "text"
	}

	message, err := c.store.CreateMessage(ctx, roomID, conn.Identity.UserID, content, messageType)
	if err != nil {
		return store.Message{}, err
	}

	c.dispatcher.Broadcast(topic.Chat(roomID), event.ChatMessage{
		Type:        event.TypeChatMessage,
		Message:     message.Content,
		Sender:      conn.Identity.Username,
		SenderID:    conn.Identity.UserID,
		MessageID:   message.ID,
		MessageType: message.MessageType,
		CreatedAt:   message.CreatedAt,
	})

	return message, nil
}

// OnTyping broadcasts a typing indicator. Nothing is persisted.
func (c *Coordinator) OnTyping(conn *fanout.Connection, roomID string, isTyping bool) {
	c.dispatcher.Broadcast(topic.Chat(roomID), event.UserTyping{
		Type:     event.TypeUserTyping,
		UserID:   conn.Identity.UserID,
		IsTyping: isTyping,
	})
}

// OnReadReceipt marks the message read and broadcasts the receipt. An
// unknown message id is ignored, matching the backend's behaviour.
func (c *Coordinator) OnReadReceipt(ctx context.Context, conn *fanout.Connection, roomID, messageID string) error {
	err := c.store.MarkMessageRead(ctx, messageID)
	if err != nil {
		var tagged ierr.Error
		if errors.As(err, &tagged) && tagged.Code == ierr.ErrorCodeNotFound {
			c.logger.Debug("read receipt for unknown message",
				zap.String("messageId", messageID))
		} else {
			return err
		}
	}

	c.dispatcher.Broadcast(topic.Chat(roomID), event.MessageRead{
		Type:      event.TypeMessageRead,
		MessageID: messageID,
		UserID:    conn.Identity.UserID,
	})

	return nil
}

// OnChatJoin subscribes the connection to the room and announces the
// user as online.
func (c *Coordinator) OnChatJoin(conn *fanout.Connection, roomID string) error {
	if _, err := c.registry.Join(topic.Chat(roomID), conn); err != nil {
		return err
	}

	c.dispatcher.Broadcast(topic.Chat(roomID), event.UserStatus{
		Type:   event.TypeUserStatus,
		UserID: conn.Identity.UserID,
		Status: "online",
	})

	return nil
}

// OnNotifyJoin subscribes the connection to its own notification topic.
// The topic is derived from the bound identity, never from the request.
func (c *Coordinator) OnNotifyJoin(conn *fanout.Connection) error {
	_, err := c.registry.Join(topic.Notify(conn.Identity.UserID), conn)
	return err
}

// OnLiveJoin subscribes a viewer to the stream topic, records the
// viewer row and broadcasts the recomputed viewer count. Crossing a
// milestone threshold notifies the streamer.
func (c *Coordinator) OnLiveJoin(ctx context.Context, conn *fanout.Connection, stream store.Stream) error {
	count, err := c.registry.Join(topic.Live(stream.ID), conn)
	if err != nil {
		return err
	}

	if _, err := c.store.GetOrCreateViewer(ctx, stream.ID, conn.Identity.UserID); err != nil {
		c.registry.Leave(topic.Live(stream.ID), conn.ID)
		return err
	}

	c.broadcastViewerCount(stream.ID, count)

	if threshold, crossed := crossedMilestone(count-1, count); crossed {
		c.logger.Info("viewer milestone reached",
			zap.String("streamId", stream.ID),
			zap.Int("viewers", threshold))

		if _, err := c.NotifyUser(ctx, NotifyRequest{
			RecipientID: stream.StreamerID,
			Type:        store.NotificationMilestone,
			ObjectType:  "stream",
			ObjectID:    stream.ID,
		}); err != nil {
			c.logger.Warn("milestone notification failed",
				zap.String("streamId", stream.ID),
				zap.Error(err))
		}
	}

	return nil
}

// OnWebRTCOffer goes to every subscriber of the stream.
func (c *Coordinator) OnWebRTCOffer(conn *fanout.Connection, streamID, sdp string) {
	c.dispatcher.Broadcast(topic.Live(streamID), event.WebRTCSignal{
		Type:       event.TypeWebRTCSignal,
		SignalType: event.SignalOffer,
		SDP:        sdp,
		SenderID:   conn.Identity.UserID,
	})
}

// OnWebRTCAnswer is addressed: only connections bound to targetID
// receive it.
func (c *Coordinator) OnWebRTCAnswer(conn *fanout.Connection, streamID, sdp, targetID string) {
	c.dispatcher.BroadcastTarget(topic.Live(streamID), targetID, event.WebRTCSignal{
		Type:       event.TypeWebRTCSignal,
		SignalType: event.SignalAnswer,
		SDP:        sdp,
		SenderID:   conn.Identity.UserID,
		TargetID:   targetID,
	})
}

// OnICECandidate goes to all subscribers, or to targetID only when set.
func (c *Coordinator) OnICECandidate(conn *fanout.Connection, streamID string, candidate []byte, targetID string) {
	signal := event.WebRTCSignal{
		Type:       event.TypeWebRTCSignal,
		SignalType: event.SignalICECandidate,
		Candidate:  candidate,
		SenderID:   conn.Identity.UserID,
		TargetID:   targetID,
	}

	if targetID != "" {
		c.dispatcher.BroadcastTarget(topic.Live(streamID), targetID, signal)
		return
	}

	c.dispatcher.Broadcast(topic.Live(streamID), signal)
}

// OnLiveComment persists the comment then broadcasts it.
func (c *Coordinator) OnLiveComment(ctx context.Context, conn *fanout.Connection, streamID, text string) (store.Comment, error) {
	comment, err := c.store.CreateComment(ctx, streamID, conn.Identity.UserID, text)
	if err != nil {
		return store.Comment{}, err
	}

	c.dispatcher.Broadcast(topic.Live(streamID), event.Comment{
		Type: event.TypeComment,
		Comment: event.CommentBody{
			ID:        comment.ID,
			User:      userRef(conn.Identity),
			Text:      comment.Text,
			CreatedAt: comment.CreatedAt,
		},
	})

	return comment, nil
}

// OnLiveReaction persists the reaction then broadcasts it.
func (c *Coordinator) OnLiveReaction(ctx context.Context, conn *fanout.Connection, streamID, reactionType string) (store.Reaction, error) {
	reaction, err := c.store.CreateReaction(ctx, streamID, conn.Identity.UserID, reactionType)
	if err != nil {
		return store.Reaction{}, err
	}

	c.dispatcher.Broadcast(topic.Live(streamID), event.Reaction{
		Type: event.TypeReaction,
		Reaction: event.ReactionBody{
			ID:           reaction.ID,
			User:         userRef(conn.Identity),
			ReactionType: reaction.ReactionType,
			CreatedAt:    reaction.CreatedAt,
		},
	})

	return reaction, nil
}

// OnViewerUpdate rebroadcasts the current viewer count on request.
func (c *Coordinator) OnViewerUpdate(streamID string) {
	c.broadcastViewerCount(streamID, c.registry.Count(topic.Live(streamID)))
}

// OnStreamEnded broadcasts the terminal event and evicts every
// subscriber from the stream topic.
func (c *Coordinator) OnStreamEnded(streamID string) {
	key := topic.Live(streamID)

	c.dispatcher.Broadcast(key, event.StreamEnded{
		Type:     event.TypeStreamEnded,
		StreamID: streamID,
	})

	c.registry.EvictAll(key)
}

// OnDisconnect deregisters the connection and emits the per-family
// "left" side effects: offline presence for chat rooms, viewer-left
// bookkeeping and a fresh viewer count for live streams.
func (c *Coordinator) OnDisconnect(ctx context.Context, conn *fanout.Connection) {
	joined := c.registry.Topics(conn.ID)
	c.registry.Deregister(conn.ID)

	for _, key := range joined {
		switch key.Kind() {
		case topic.KindChat:
			c.dispatcher.Broadcast(key, event.UserStatus{
				Type:   event.TypeUserStatus,
				UserID: conn.Identity.UserID,
				Status: "offline",
			})
		case topic.KindLive:
			if err := c.store.MarkViewerLeft(ctx, key.ID(), conn.Identity.UserID); err != nil {
				c.logger.Warn("failed to mark viewer left",
					zap.String("streamId", key.ID()),
					zap.Error(err))
			}
			c.broadcastViewerCount(key.ID(), c.registry.Count(key))
		case topic.KindNotify:
		}
	}
}

func (c *Coordinator) broadcastViewerCount(streamID string, count int) {
	c.dispatcher.Broadcast(topic.Live(streamID), event.ViewerCount{
		Type:  event.TypeViewerCount,
		Count: count,
	})
}

// crossedMilestone reports whether the count moved from below a
// threshold to at or above it. A monotonic check, not exact equality,
// so a jump over a threshold still fires exactly once.
func crossedMilestone(previous, current int) (int, bool) {
	for _, threshold := range viewerMilestones {
		if previous < threshold && threshold <= current {
			return threshold, true
		}
	}
	return 0, false
}

func userRef(identity auth.Identity) event.UserRef {
	return event.UserRef{
		ID:             identity.UserID,
		Username:       identity.Username,
		FullName:       identity.FullName,
		ProfilePicture: identity.ProfilePicture,
	}
}
