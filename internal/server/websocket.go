package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/coordinator"
	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/fanout"
	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/store"
	"github.com/chattingus/realtime/internal/topic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096

	// Inbound frames per connection: sustained and burst.
	inboundRate  = 20
	inboundBurst = 40
)

type WebSocketServer struct {
	logger        *zap.Logger
	upgrader      *websocket.Upgrader
	authenticator *auth.Authenticator
	registry      fanout.Registry
	dispatcher    *fanout.Dispatcher
	coordinator   *coordinator.Coordinator
	store         store.Store
	validator     *topic.Validator
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	authenticator *auth.Authenticator,
	registry fanout.Registry,
	dispatcher *fanout.Dispatcher,
	coord *coordinator.Coordinator,
	st store.Store,
) *WebSocketServer {
	return &WebSocketServer{
		logger:        logger,
		upgrader:      upgrader,
		authenticator: authenticator,
		registry:      registry,
		dispatcher:    dispatcher,
		coordinator:   coord,
		store:         st,
		validator:     topic.NewValidator(),
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws/chat/{roomId}", s.handleChat)
	router.HandleFunc("/ws/live/{streamId}", s.handleLive)
	router.HandleFunc("/ws/notifications", s.handleNotifications)
}

// accept upgrades the request and binds an identity. Anonymous or
// invalid tokens close the socket immediately after the handshake.
func (s *WebSocketServer) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, *fanout.Connection, bool) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil, nil, false
	}

	socket.SetReadLimit(maxFrameSize)

	identity, err := s.authenticator.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		s.closeWith(socket, websocket.ClosePolicyViolation, "unauthenticated")
		return nil, nil, false
	}

	conn, err := s.registry.Register(identity)
	if err != nil {
		s.closeWith(socket, websocket.CloseInternalServerErr, "registration failed")
		return nil, nil, false
	}

	return socket, conn, true
}

func (s *WebSocketServer) closeWith(socket *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = socket.Close()
}

func (s *WebSocketServer) handleChat(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if err := s.validator.Validate(topic.Chat(roomID)); err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	socket, conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	if err := s.coordinator.OnChatJoin(conn, roomID); err != nil {
		s.registry.Deregister(conn.ID)
		s.closeWith(socket, websocket.CloseInternalServerErr, "join failed")
		return
	}

	s.logger.Info("chat connection established",
		zap.String("connectionId", conn.ID),
		zap.String("roomId", roomID),
		zap.String("userId", conn.Identity.UserID))

	go s.writePump(socket, conn)
	s.readPump(r.Context(), socket, conn, func(ctx context.Context, frame event.Inbound) error {
		return s.routeChatFrame(ctx, conn, roomID, frame)
	})
}

func (s *WebSocketServer) handleLive(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamId"]
	if err := s.validator.Validate(topic.Live(streamID)); err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	socket, conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	stream, err := s.store.GetStream(r.Context(), streamID)
	if err != nil || !stream.Accepting() {
		s.registry.Deregister(conn.ID)
		s.closeWith(socket, websocket.ClosePolicyViolation, "stream is not live")
		return
	}

	if err := s.coordinator.OnLiveJoin(r.Context(), conn, stream); err != nil {
		s.registry.Deregister(conn.ID)
		s.closeWith(socket, websocket.CloseInternalServerErr, "join failed")
		return
	}

	s.logger.Info("live connection established",
		zap.String("connectionId", conn.ID),
		zap.String("streamId", streamID),
		zap.String("userId", conn.Identity.UserID))

	go s.writePump(socket, conn)
	s.readPump(r.Context(), socket, conn, func(ctx context.Context, frame event.Inbound) error {
		return s.routeLiveFrame(ctx, conn, streamID, frame)
	})
}

func (s *WebSocketServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	socket, conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	if err := s.coordinator.OnNotifyJoin(conn); err != nil {
		s.registry.Deregister(conn.ID)
		s.closeWith(socket, websocket.CloseInternalServerErr, "join failed")
		return
	}

	s.logger.Info("notification connection established",
		zap.String("connectionId", conn.ID),
		zap.String("userId", conn.Identity.UserID))

	go s.writePump(socket, conn)
	s.readPump(r.Context(), socket, conn, func(ctx context.Context, frame event.Inbound) error {
		return s.routeNotificationFrame(ctx, conn, frame)
	})
}

// readPump drives a connection until the socket errors out, then runs
// disconnect cleanup. Handler errors go back to the sender only.
func (s *WebSocketServer) readPump(ctx context.Context, socket *websocket.Conn, conn *fanout.Connection, route func(context.Context, event.Inbound) error) {
	defer func() {
		s.coordinator.OnDisconnect(context.WithoutCancel(ctx), conn)
		_ = socket.Close()
	}()

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error",
					zap.String("connectionId", conn.ID),
					zap.Error(err))
			}
			return
		}

		if !limiter.Allow() {
			s.dispatcher.SendTo(conn, event.NewError("rate limit exceeded"))
			continue
		}

		frame, err := event.DecodeInbound(data)
		if err != nil {
			s.sendError(conn, err)
			continue
		}

		if err := route(ctx, frame); err != nil {
			s.sendError(conn, err)
		}
	}
}

// sendError echoes a failure to the originating connection only. Other
// subscribers never see a partial broadcast.
func (s *WebSocketServer) sendError(conn *fanout.Connection, err error) {
	var tagged ierr.Error
	if errors.As(err, &tagged) {
		s.dispatcher.SendTo(conn, event.NewError(tagged.Message))
		return
	}

	s.logger.Error("unhandled frame error",
		zap.String("connectionId", conn.ID),
		zap.Error(err))
	s.dispatcher.SendTo(conn, event.NewError("internal error"))
}

// writePump drains the connection's FIFO queue onto the socket and
// keeps the connection alive with pings. It exits when the registry
// closes the queue or a write fails.
func (s *WebSocketServer) writePump(socket *websocket.Conn, conn *fanout.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
