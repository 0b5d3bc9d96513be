package event

import (
	"encoding/json"
	"time"
)

// Type discriminates every frame on the wire. The set is closed: the
// dispatcher and the server switch over it exhaustively and unknown
// inbound types are bounced back to the sender as an error frame.
type Type string

const (
	TypeChatMessage  Type = "chat_message"
	TypeTyping       Type = "typing"
	TypeReadReceipt  Type = "read_receipt"
	TypeWebRTCOffer  Type = "webrtc_offer"
	TypeWebRTCAnswer Type = "webrtc_answer"
	TypeICECandidate Type = "ice_candidate"
	TypeComment      Type = "comment"
	TypeReaction     Type = "reaction"
	TypeViewerUpdate Type = "viewer_update"

	TypeUserTyping   Type = "user_typing"
	TypeUserStatus   Type = "user_status"
	TypeMessageRead  Type = "message_read"
	TypeViewerCount  Type = "viewer_count"
	TypeWebRTCSignal Type = "webrtc_signal"
	TypeNotification Type = "notification"
	TypeStreamEnded  Type = "stream_ended"
	TypeError        Type = "error"
)

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice_candidate"
)

// Payload is implemented by every outbound event shape. The payload is
// marshalled exactly once per broadcast, before the first send.
type Payload interface {
	EventType() Type
}

type UserRef struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type ChatMessage struct {
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	Sender      string    `json:"sender"`
	SenderID    string    `json:"sender_id"`
	MessageID   string    `json:"message_id"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ChatMessage) EventType() Type { return TypeChatMessage }

type UserTyping struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func (UserTyping) EventType() Type { return TypeUserTyping }

type UserStatus struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (UserStatus) EventType() Type { return TypeUserStatus }

type MessageRead struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

func (MessageRead) EventType() Type { return TypeMessageRead }

type ViewerCount struct {
	Type  Type `json:"type"`
	Count int  `json:"count"`
}

func (ViewerCount) EventType() Type { return TypeViewerCount }

type WebRTCSignal struct {
	Type       Type            `json:"type"`
	SignalType SignalType      `json:"signal_type"`
	SDP        string          `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	SenderID   string          `json:"sender_id"`
	TargetID   string          `json:"target_id,omitempty"`
}

func (WebRTCSignal) EventType() Type { return TypeWebRTCSignal }

type CommentBody struct {
	ID        string    `json:"id"`
	User      UserRef   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	Type    Type        `json:"type"`
	Comment CommentBody `json:"comment"`
}

func (Comment) EventType() Type { return TypeComment }

type ReactionBody struct {
	ID           string    `json:"id"`
	User         UserRef   `json:"user"`
	ReactionType string    `json:"reaction_type"`
	CreatedAt    time.Time `json:"created_at"`
}

type Reaction struct {
	Type     Type         `json:"type"`
	Reaction ReactionBody `json:"reaction"`
}

func (Reaction) EventType() Type { return TypeReaction }

type NotificationSender struct {
	ID             string `json:"id,omitempty"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type NotificationBody struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Text      string             `json:"text"`
	Link      string             `json:"link"`
	Sender    NotificationSender `json:"sender"`
	IsRead    bool               `json:"is_read"`
	CreatedAt time.Time          `json:"created_at"`
	TimeAgo   string             `json:"time_ago"`
}

type Notification struct {
	Type         Type             `json:"type"`
	Notification NotificationBody `json:"notification"`
}

func (Notification) EventType() Type { return TypeNotification }

type StreamEnded struct {
	Type     Type   `json:"type"`
	StreamID string `json:"stream_id"`
}

func (StreamEnded) EventType() Type { return TypeStreamEnded }

type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func (Error) EventType() Type { return TypeError }

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
