package amoria

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionConfig configures a ChatSession.
type SessionConfig struct {
	// ReconnectDelay is passed through to the socket.
	ReconnectDelay time.Duration
	// HistoryLimit caps the history fetched on entry. Default 50.
	HistoryLimit int
	// OnChange fires after every store or presence mutation; the UI
	// re-renders from the store snapshot. Called from the goroutine
	// that performed the mutation.
	OnChange func()
	// Logger receives session diagnostics. slog.Default when nil.
	Logger *slog.Logger
}

// ChatSession is one mounted chat screen: the active match, its
// message store, the partner's presence, and exactly one live socket.
// It is created on session entry and closed on exit; the store lives
// only as long as the session.
type ChatSession struct {
	client   *Client
	match    Match
	selfID   string
	store    *MessageStore
	presence *PresenceTracker
	socket   *ChatSocket
	log      *slog.Logger
	onChange func()

	closeOnce sync.Once
}

// OpenSession enters a chat: it fetches durable history, seeds the
// store, opens the realtime socket and marks the conversation read.
// A failed socket dial is not an error — the socket keeps retrying —
// but a failed history fetch is, since the screen would render empty.
func OpenSession(ctx context.Context, client *Client, selfID string, match Match, cfg *SessionConfig) (*ChatSession, error) {
	if cfg == nil {
		cfg = &SessionConfig{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &ChatSession{
		client:   client,
		match:    match,
		selfID:   selfID,
		store:    NewMessageStore(match.ID, selfID),
		presence: NewPresenceTracker(match.Partner),
		log:      logger,
		onChange: cfg.OnChange,
	}

	history, err := client.Messages.History(ctx, match.ID, &PaginationOptions{Limit: cfg.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	s.store.Seed(history)

	s.socket = NewChatSocket(ChatSocketConfig{
		BaseURL:        client.BaseURL(),
		Token:          client.Token(),
		MatchID:        match.ID,
		ReconnectDelay: cfg.ReconnectDelay,
		HTTPClient:     client.HTTPClient(),
		Logger:         logger,
	})
	s.socket.OnEvent = s.handleEvent
	_ = s.socket.Connect(ctx)

	if err := client.Matches.MarkRead(ctx, match.ID); err != nil {
		logger.Warn("mark read failed", "match_id", match.ID, "error", err)
	}

	return s, nil
}

// Close leaves the chat: the socket is torn down synchronously and any
// pending reconnect is cancelled. In-flight fallback sends are not
// cancelled; their completion handlers hit a store nobody renders
// anymore, which is a no-op cost. Safe to call multiple times.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() {
		s.socket.Close()
	})
}

// Match returns the session's match.
func (s *ChatSession) Match() Match { return s.match }

// Messages returns the current render snapshot.
func (s *ChatSession) Messages() []Message { return s.store.Messages() }

// Store exposes the session's message store.
func (s *ChatSession) Store() *MessageStore { return s.store }

// Partner returns the partner's current presence state.
func (s *ChatSession) Partner() Partner { return s.presence.Partner() }

// ConnState reports the socket state.
func (s *ChatSession) ConnState() ConnState { return s.socket.State() }

// handleEvent routes one inbound frame: presence events go to the
// tracker, everything else to the store's reconciliation.
func (s *ChatSession) handleEvent(ev *ChatEvent) {
	var changed bool
	switch ev.Type {
	case EventTyping, EventOnlineStatus:
		if ev.MatchID == s.match.ID {
			changed = s.presence.Apply(ev)
		}
	default:
		changed = s.store.Apply(ev)
	}
	if changed {
		s.notify()
	}
}

func (s *ChatSession) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// ============================================================================
// Send Pipeline
// ============================================================================

// SendText inserts an optimistic entry and starts delivery. The entry
// is visible immediately under its temporary identity (the returned
// id) regardless of network latency; delivery converges it to sent via
// the realtime echo or the fallback response, or to failed. Failed
// sends are not retried automatically — the user resends.
func (s *ChatSession) SendText(ctx context.Context, text string) string {
	return s.sendOptimistic(ctx, KindText, text, "")
}

// SendPhoto uploads the image first — upload is its own failure
// domain, and a failed upload creates no message — then runs the same
// optimistic flow as text with the hosted URL.
func (s *ChatSession) SendPhoto(ctx context.Context, data []byte, fileName string) (string, error) {
	up, err := s.client.Media.UploadPhoto(ctx, data, fileName)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return s.sendOptimistic(ctx, KindPhoto, "", up.PhotoURL), nil
}

// SendSuperLike fires the purchase call first; only a confirmed
// purchase produces an entry. The entry carries the server identity,
// so a later echo reconciles by exact match (best effort — gifts are
// the lower-consistency message kind).
func (s *ChatSession) SendSuperLike(ctx context.Context) (*GiftData, error) {
	gift, err := s.client.Gifts.SendSuperLike(ctx, s.match.ID)
	if err != nil {
		return nil, fmt.Errorf("send super like: %w", err)
	}
	id := gift.ID
	if id == "" {
		id = localIDPrefix + uuid.NewString()
	}
	created := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, gift.CreatedAt); err == nil {
		created = t
	}
	if err := s.store.Insert(Message{
		ID:        id,
		MatchID:   s.match.ID,
		SenderID:  s.selfID,
		IsOwn:     true,
		Kind:      KindSuperLike,
		Status:    StatusSent,
		CreatedAt: created,
	}); err == nil {
		s.notify()
	}
	return gift, nil
}

// SetTyping tells the partner whether the local user is typing. Silent
// when the socket is down; typing state is not worth a fallback call.
func (s *ChatSession) SetTyping(ctx context.Context, typing bool) {
	err := s.socket.Send(ctx, &ChatEvent{
		Type:     EventTyping,
		MatchID:  s.match.ID,
		SenderID: s.selfID,
		IsTyping: typing,
	})
	if err != nil && err != ErrNotConnected {
		s.log.Warn("typing indicator dropped", "match_id", s.match.ID, "error", err)
	}
}

// sendOptimistic inserts the sending entry and starts delivery in the
// background.
func (s *ChatSession) sendOptimistic(ctx context.Context, kind MessageKind, text, photoURL string) string {
	clientID := localIDPrefix + uuid.NewString()
	msg := Message{
		ID:        clientID,
		MatchID:   s.match.ID,
		SenderID:  s.selfID,
		IsOwn:     true,
		Kind:      kind,
		Text:      text,
		PhotoURL:  photoURL,
		Status:    StatusSending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Insert(msg); err != nil {
		// uuid collision is not a thing in practice
		s.log.Error("optimistic insert rejected", "match_id", s.match.ID, "error", err)
		return clientID
	}
	s.notify()

	// Delivery outlives the caller: cancelling the context after the
	// optimistic insert must not abort an in-flight fallback send.
	go s.deliver(context.WithoutCancel(ctx), &msg)
	return clientID
}

// deliver pushes one message over the live socket when it is open, and
// falls back to the request/response path otherwise. The fallback
// response confirms the entry in place; a fallback failure marks it
// failed and stops.
func (s *ChatSession) deliver(ctx context.Context, msg *Message) {
	if s.socket.State() == StateOpen {
		ev := &ChatEvent{
			Type:      string(msg.Kind),
			MatchID:   msg.MatchID,
			ClientID:  msg.ID,
			SenderID:  msg.SenderID,
			Text:      msg.Text,
			PhotoURL:  msg.PhotoURL,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := s.socket.Send(ctx, ev); err == nil {
			// Convergence comes from the server echo.
			return
		}
		// The socket dropped between the state check and the write;
		// take the fallback path like any closed connection.
	}

	var (
		data *SendMessageData
		err  error
	)
	switch msg.Kind {
	case KindPhoto:
		data, err = s.client.Messages.SendPhoto(ctx, msg.MatchID, msg.PhotoURL, msg.ID)
	default:
		data, err = s.client.Messages.SendText(ctx, msg.MatchID, msg.Text, msg.ID)
	}
	if err != nil {
		s.log.Warn("message delivery failed", "match_id", msg.MatchID, "client_id", msg.ID, "error", err)
		if s.store.SetStatus(msg.ID, StatusFailed) {
			s.notify()
		}
		return
	}

	created := msg.CreatedAt
	if t, perr := time.Parse(time.RFC3339Nano, data.CreatedAt); perr == nil {
		created = t
	} else if t, perr := time.Parse(time.RFC3339, data.CreatedAt); perr == nil {
		created = t
	}
	if s.store.Confirm(msg.ID, data.ID, created) {
		s.notify()
	}
}
