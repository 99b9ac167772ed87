// Package protocol defines the JSON frame envelopes exchanged with the
// server over the realtime transport. Every frame is a single JSON object
// tagged by "type", except the new-message frame, which the server sends
// as an object wrapping a "message" key with no tag.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound frame type tags.
const (
	TypeUserTyping       = "user_typing"
	TypeUserStatus       = "user_status"
	TypeMessageRead      = "message_read"
	TypeMessageDelivered = "message_delivered"
	TypeMessageEdited    = "message_edited"
	TypeMessageDeleted   = "message_deleted"
	TypeMessageReaction  = "message_reaction"
	TypeWebRTCOffer      = "webrtc_offer"
	TypeWebRTCAnswer     = "webrtc_answer"
	TypeWebRTCCandidate  = "webrtc_ice_candidate"
	TypeCallEnded        = "call_ended"

	// TypeMessage is the synthetic kind assigned to the untagged
	// new-message frame so it can be dispatched like the others.
	TypeMessage = "message"
)

// Outbound frame type tags.
const (
	TypeSendMessage   = "message"
	TypeTyping        = "typing"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
	TypeReactMessage  = "react_message"
	TypeMarkRead      = "mark_read"
	TypeMarkDelivered = "mark_delivered"
	TypePinMessage    = "pin_message"
	TypeUnpinMessage  = "unpin_message"
)

// Sender identifies the author of a wire message.
type Sender struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Reaction is one reaction entry in a message's reaction set.
type Reaction struct {
	Emoji    string `json:"emoji"`
	Username string `json:"username"`
}

// ReplyRef is the denormalized parent snapshot carried with a reply.
type ReplyRef struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// Message is a chat message as the server sends it. The owning
// conversation id arrives under either "conversation_id" or "chat_id"
// depending on the emitting code path; ConversationRef unifies the two.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	ChatID         string     `json:"chat_id,omitempty"`
	Sender         *Sender    `json:"sender,omitempty"`
	Text           string     `json:"text"`
	File           string     `json:"file,omitempty"`
	FileType       string     `json:"file_type,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	Timestamp      int64      `json:"timestamp"`
	ReplyTo        *ReplyRef  `json:"reply_to,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	IsRead         bool       `json:"is_read,omitempty"`
	IsDelivered    bool       `json:"is_delivered,omitempty"`
}

// ConversationRef returns the owning conversation id regardless of which
// envelope key carried it.
func (m *Message) ConversationRef() string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.ChatID
}

// UserTyping signals that a peer is typing in a conversation.
type UserTyping struct {
	ConversationID string `json:"conversation_id"`
	Username       string `json:"username"`
}

// UserStatus signals a peer's presence change.
type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// MessageRead is a read receipt for a message.
type MessageRead struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageDelivered is a delivery receipt for a message.
type MessageDelivered struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageEdited carries the replacement text of an edited message.
type MessageEdited struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
}

// MessageDeleted marks a message as deleted by its author.
type MessageDeleted struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageReaction carries the full reaction set for a message. The server
// is authoritative: the set replaces whatever is held locally.
type MessageReaction struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	Reactions      []Reaction `json:"reactions"`
}

// ICECandidate is a serialized ICE candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// WebRTCOffer is an SDP offer for a new call, a renegotiation, or an ICE
// restart. ConversationID identifies the peer.
type WebRTCOffer struct {
	ConversationID string `json:"conversation_id"`
	SDP            string `json:"sdp"`
	Video          bool   `json:"video"`
	ICERestart     bool   `json:"ice_restart,omitempty"`
}

// WebRTCAnswer is an SDP answer to a previously sent offer.
type WebRTCAnswer struct {
	ConversationID string `json:"conversation_id"`
	SDP            string `json:"sdp"`
}

// WebRTCICECandidate carries one ICE candidate for the active call.
type WebRTCICECandidate struct {
	ConversationID string       `json:"conversation_id"`
	Candidate      ICECandidate `json:"candidate"`
}

// CallEnded signals remote termination of the call with the given peer.
type CallEnded struct {
	ConversationID string `json:"conversation_id"`
}

// UnknownFrameError is returned by Decode for a frame type this client
// does not understand. Callers log and ignore it.
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Decode parses a raw inbound frame into its typed payload. It returns the
// frame kind, the payload, and an error for malformed JSON or an unknown
// type. The payload types are pointers to the structs above.
func Decode(data []byte) (string, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	// New-message frames are identified by the presence of the "message"
	// key, not by a type tag.
	if len(env.Message) > 0 && string(env.Message) != "null" {
		var msg Message
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return "", nil, fmt.Errorf("decode message frame: %w", err)
		}
		return TypeMessage, &msg, nil
	}

	var payload any
	switch env.Type {
	case TypeUserTyping:
		payload = &UserTyping{}
	case TypeUserStatus:
		payload = &UserStatus{}
	case TypeMessageRead:
		payload = &MessageRead{}
	case TypeMessageDelivered:
		payload = &MessageDelivered{}
	case TypeMessageEdited:
		payload = &MessageEdited{}
	case TypeMessageDeleted:
		payload = &MessageDeleted{}
	case TypeMessageReaction:
		payload = &MessageReaction{}
	case TypeWebRTCOffer:
		payload = &WebRTCOffer{}
	case TypeWebRTCAnswer:
		payload = &WebRTCAnswer{}
	case TypeWebRTCCandidate:
		payload = &WebRTCICECandidate{}
	case TypeCallEnded:
		payload = &CallEnded{}
	default:
		return env.Type, nil, &UnknownFrameError{Type: env.Type}
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return env.Type, nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
	}
	return env.Type, payload, nil
}
