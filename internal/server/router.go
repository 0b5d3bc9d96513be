package server

import (
	"context"
	"errors"

	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/fanout"
	"github.com/chattingus/realtime/internal/ierr"
)

// routeChatFrame handles the inbound vocabulary of a chat room socket.
// The event set is closed: anything else is bounced to the sender.
func (s *WebSocketServer) routeChatFrame(ctx context.Context, conn *fanout.Connection, roomID string, frame event.Inbound) error {
	switch frame.Type {
	case event.TypeChatMessage:
		_, err := s.coordinator.OnChatMessageSent(ctx, conn, roomID, frame.Message, frame.MessageType)
		return err

	case event.TypeTyping:
		s.coordinator.OnTyping(conn, roomID, frame.IsTyping)
		return nil

	case event.TypeReadReceipt:
		return s.coordinator.OnReadReceipt(ctx, conn, roomID, frame.MessageID)

	case event.TypeWebRTCOffer, event.TypeWebRTCAnswer, event.TypeICECandidate,
		event.TypeComment, event.TypeReaction, event.TypeViewerUpdate:
		return ierr.New(ierr.ErrorCodeInvalidFrame,
			errors.New("event type not supported on a chat connection: "+string(frame.Type)))

	default:
		return ierr.New(ierr.ErrorCodeInvalidFrame,
			errors.New("unknown event type: "+string(frame.Type)))
	}
}

// routeNotificationFrame rejects everything. The notification stream is
// outbound-only and a client frame of any recognized type is still a
// protocol violation worth bouncing.
func (s *WebSocketServer) routeNotificationFrame(_ context.Context, _ *fanout.Connection, frame event.Inbound) error {
	return ierr.New(ierr.ErrorCodeInvalidFrame,
		errors.New("event type not supported on a notification connection: "+string(frame.Type)))
}

// routeLiveFrame handles the inbound vocabulary of a live stream socket.
func (s *WebSocketServer) routeLiveFrame(ctx context.Context, conn *fanout.Connection, streamID string, frame event.Inbound) error {
	switch frame.Type {
	case event.TypeWebRTCOffer:
		s.coordinator.OnWebRTCOffer(conn, streamID, frame.SDP)
		return nil

	case event.TypeWebRTCAnswer:
		s.coordinator.OnWebRTCAnswer(conn, streamID, frame.SDP, frame.TargetID)
		return nil

	case event.TypeICECandidate:
		s.coordinator.OnICECandidate(conn, streamID, frame.Candidate, frame.TargetID)
		return nil

	case event.TypeComment:
		_, err := s.coordinator.OnLiveComment(ctx, conn, streamID, frame.Text)
		return err

	case event.TypeReaction:
		_, err := s.coordinator.OnLiveReaction(ctx, conn, streamID, frame.ReactionType)
		return err

	case event.TypeViewerUpdate:
		s.coordinator.OnViewerUpdate(streamID)
		return nil

	case event.TypeChatMessage, event.TypeTyping, event.TypeReadReceipt:
		return ierr.New(ierr.ErrorCodeInvalidFrame,
			errors.New("event type not supported on a live connection: "+string(frame.Type)))

	default:
		return ierr.New(ierr.ErrorCodeInvalidFrame,
			errors.New("unknown event type: "+string(frame.Type)))
	}
}
