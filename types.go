package amoria

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Message Model
// ============================================================================

// MessageStatus is the delivery state of a message. Statuses only move
// forward (sending → sent → delivered → read) or divert to failed from
// sending/sent; they never regress.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders statuses along the forward progression. Failed is
// terminal and handled separately.
func statusRank(s MessageStatus) int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// MessageKind distinguishes the payload carried by a message.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindPhoto     MessageKind = "photo"
	KindSuperLike MessageKind = "super_like"
)

// Message is one entry in a chat session. Before server acknowledgment
// ID holds a locally generated temporary token; after a successful
// reconciliation it holds the server-issued identifier. The two are
// never both present.
type Message struct {
	ID        string        `json:"id"`
	MatchID   string        `json:"matchId"`
	SenderID  string        `json:"senderId"`
	IsOwn     bool          `json:"isOwn"`
	Kind      MessageKind   `json:"kind"`
	Text      string        `json:"text,omitempty"`
	PhotoURL  string        `json:"photoUrl,omitempty"`
	Reaction  string        `json:"reaction,omitempty"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// localIDPrefix marks client-generated temporary message identities.
const localIDPrefix = "local-"

// IsLocal reports whether the message still carries its temporary
// client-side identity.
func (m *Message) IsLocal() bool {
	return len(m.ID) > len(localIDPrefix) && m.ID[:len(localIDPrefix)] == localIDPrefix
}

// ============================================================================
// Match / Partner Types
// ============================================================================

// Partner is the displayed state of the other party in a match.
type Partner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	IsTyping  bool      `json:"isTyping"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// Match is a two-party conversation as listed by the API.
type Match struct {
	ID            string    `json:"id"`
	Partner       Partner   `json:"partner"`
	LastMessage   *Message  `json:"lastMessage,omitempty"`
	UnreadCount   int       `json:"unreadCount,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ============================================================================
// Wire Events
// ============================================================================

// Event type vocabulary on the realtime connection.
const (
	EventMessage      = "message"
	EventText         = "text"
	EventPhoto        = "photo"
	EventSuperLike    = "super_like"
	EventTyping       = "typing"
	EventOnlineStatus = "online_status"
	EventRead         = "read"
)

// ChatEvent is the wire format for frames in both directions on the
// realtime connection. Message-bearing events carry id/sender_id and a
// payload; typing and online_status carry only the presence flags.
// client_id echoes the sender's temporary identity so a self-echo can
// be matched exactly rather than by content.
type ChatEvent struct {
	Type      string `json:"type"`
	MatchID   string `json:"match_id"`
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Text      string `json:"text,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	IsOnline  bool   `json:"is_online,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
}

// Kind maps a message-bearing event type to the message kind it
// carries. The second return is false for non-message events.
func (e *ChatEvent) Kind() (MessageKind, bool) {
	switch e.Type {
	case EventMessage, EventText:
		return KindText, true
	case EventPhoto:
		return KindPhoto, true
	case EventSuperLike:
		return KindSuperLike, true
	}
	return "", false
}

// Time parses the event timestamp, falling back to now for events that
// omit or garble it.
func (e *ChatEvent) Time() time.Time {
	if e.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.CreatedAt); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// ============================================================================
// API Payload Types
// ============================================================================

// SendMessageData is returned by the fallback send endpoints.
type SendMessageData struct {
	ID        string `json:"id"`
	MatchID   string `json:"matchId"`
	Kind      string `json:"kind,omitempty"`
	Text      string `json:"text,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// HistoryMessage is one message as returned by the history endpoint.
type HistoryMessage struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	Reaction  string `json:"reaction,omitempty"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// UploadData is returned by the photo upload endpoint.
type UploadData struct {
	PhotoURL string `json:"photoUrl"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// GiftData is returned by the super-like purchase endpoint.
type GiftData struct {
	ID               string `json:"id"`
	MatchID          string `json:"matchId"`
	CreatedAt        string `json:"createdAt"`
	CreditsRemaining int    `json:"creditsRemaining"`
}

// LoginData is returned by the login and token refresh endpoints.
type LoginData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	UserID       string `json:"userId"`
	ExpiresIn    string `json:"expiresIn,omitempty"`
}

// PaginationOptions limits list endpoints.
type PaginationOptions struct {
	Limit  int
	Offset int
}
