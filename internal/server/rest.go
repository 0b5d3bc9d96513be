package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/coordinator"
	"github.com/chattingus/realtime/internal/notify"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RESTServer exposes server-to-server triggers: the main backend calls
// these after committing domain rows of its own (follows, likes, stream
// lifecycle changes) to fan the result out to live sockets.
type RESTServer struct {
	logger      *zap.Logger
	coordinator *coordinator.Coordinator
	preferences *notify.PreferenceCache
	apiKeys     []string
}

func NewRESTServer(logger *zap.Logger, coord *coordinator.Coordinator, preferences *notify.PreferenceCache, apiKeys []string) *RESTServer {
	return &RESTServer{
		logger:      logger,
		coordinator: coord,
		preferences: preferences,
		apiKeys:     apiKeys,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/notify", s.requireAPIKey(s.handleNotify)).Methods("POST")
	router.HandleFunc("/streams/{streamId}/ended", s.requireAPIKey(s.handleStreamEnded)).Methods("POST")
	router.HandleFunc("/users/{userId}/preferences/invalidate", s.requireAPIKey(s.handlePreferencesInvalidated)).Methods("POST")
}

func (s *RESTServer) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		for _, candidate := range s.apiKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
				next(w, r)
				return
			}
		}

		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}
}

type notifyRequest struct {
	RecipientID    string `json:"recipient_id"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderPicture  string `json:"sender_picture,omitempty"`
	Type           string `json:"type"`
	ObjectType     string `json:"object_type,omitempty"`
	ObjectID       string `json:"object_id,omitempty"`
}

type notifyResponse struct {
	ID        string `json:"id,omitempty"`
	Delivered bool   `json:"delivered"`
}

func (s *RESTServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.RecipientID == "" || req.Type == "" {
		http.Error(w, "recipient_id and type are required", http.StatusBadRequest)
		return
	}

	notification, err := s.coordinator.NotifyUser(r.Context(), coordinator.NotifyRequest{
		RecipientID: req.RecipientID,
		Sender: auth.Identity{
			UserID:         req.SenderID,
			Username:       req.SenderUsername,
			FullName:       req.SenderName,
			ProfilePicture: req.SenderPicture,
		},
		Type:       req.Type,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
	})
	if err != nil {
		s.logger.Error("failed to handle notify request", zap.Error(err))
		http.Error(w, "failed to handle notify request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(notifyResponse{
		ID:        notification.ID,
		Delivered: notification.ID != "",
	})
}

func (s *RESTServer) handleStreamEnded(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamId"]

	s.coordinator.OnStreamEnded(streamID)

	w.WriteHeader(http.StatusNoContent)
}

// handlePreferencesInvalidated drops the cached preference row so the
// next notification re-reads the user's updated settings.
func (s *RESTServer) handlePreferencesInvalidated(w http.ResponseWriter, r *http.Request) {
	s.preferences.Invalidate(mux.Vars(r)["userId"])

	w.WriteHeader(http.StatusNoContent)
}
