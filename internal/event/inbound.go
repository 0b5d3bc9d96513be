package event

import (
	"encoding/json"
	"errors"

	"github.com/chattingus/realtime/internal/ierr"
)

// Inbound is a client frame after decoding. Only the fields relevant to
// the frame's Type are populated.
type Inbound struct {
	Type         Type            `json:"type"`
	Message      string          `json:"message,omitempty"`
	MessageType  string          `json:"message_type,omitempty"`
	IsTyping     bool            `json:"is_typing,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
	SDP          string          `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	TargetID     string          `json:"target_id,omitempty"`
	Text         string          `json:"text,omitempty"`
	ReactionType string          `json:"reaction_type,omitempty"`
}

var inboundTypes = map[Type]struct{}{
	TypeChatMessage:  {},
	TypeTyping:       {},
	TypeReadReceipt:  {},
	TypeWebRTCOffer:  {},
	TypeWebRTCAnswer: {},
	TypeICECandidate: {},
	TypeComment:      {},
	TypeReaction:     {},
	TypeViewerUpdate: {},
}

// DecodeInbound parses a client frame. Malformed JSON and types outside
// the closed inbound set are rejected with an InvalidFrame error.
func DecodeInbound(data []byte) (Inbound, error) {
	var frame Inbound
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{}, ierr.New(ierr.ErrorCodeInvalidFrame, errors.New("malformed json frame"))
	}

	if _, ok := inboundTypes[frame.Type]; !ok {
		return Inbound{}, ierr.New(ierr.ErrorCodeInvalidFrame, errors.New("unknown event type: "+string(frame.Type)))
	}

	return frame, nil
}
