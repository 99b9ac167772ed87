package store

import (
	"strings"

	"github.com/google/uuid"
)

// Sender values. Inbound senders are normalized to these before storage;
// the raw username never reaches the model.
const (
	SenderMe   = "me"
	SenderThem = "them"
)

// LocalIDPrefix tags message ids created optimistically on this device.
// Server ids never carry it, so reconciliation can always tell the two apart.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh local message id.
func NewLocalID() string {
	return LocalIDPrefix + uuid.New().String()
}

// IsLocalID reports whether id was generated locally and is still unconfirmed.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Conversation represents a chat thread with one peer or group.
type Conversation struct {
	ID              string
	Name            string
	Avatar          string
	LastMessage     string
	LastMessageTime int64
	UnreadCount     int
	Muted           bool
	HasMore         bool
	UserID          string
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	Username string `json:"username"`
}

// ReplyRef is a denormalized reference to a replied-to message, kept with
// the reply so it renders offline even if the parent is paged out.
type ReplyRef struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// Message represents a chat message.
type Message struct {
	ID             string
	ConversationID string
	Sender         string // SenderMe or SenderThem
	Text           string
	File           string
	FileType       string
	FileName       string
	Timestamp      int64
	IsRead         bool
	IsDelivered    bool
	Pending        bool // true until the server confirms the message
	Unsent         bool // outbox membership: queued for delivery on reconnect
	Deleted        bool // tombstone: row retained, content cleared
	Pinned         bool
	Reactions      []Reaction
	ReplyTo        *ReplyRef
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
