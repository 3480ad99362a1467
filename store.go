package amoria

import (
	"fmt"
	"sync"
	"time"
)

// MessageStore is the ordered, de-duplicated message list for one
// match. It is the single source of truth for rendering: entries are
// appended or replaced in place, never reordered, so render order
// equals the order each message first became known.
//
// All mutations go through Insert, Apply and the status setters; no
// caller writes to the list directly.
type MessageStore struct {
	mu      sync.RWMutex
	matchID string
	selfID  string
	order   []string
	byID    map[string]*Message
}

// NewMessageStore creates an empty store bound to one match. selfID is
// the local user's identity, used to recognize self-echoed events.
func NewMessageStore(matchID, selfID string) *MessageStore {
	return &MessageStore{
		matchID: matchID,
		selfID:  selfID,
		byID:    make(map[string]*Message),
	}
}

// Len returns the number of messages in the store.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Messages returns a snapshot of all messages in render order.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Get returns a copy of the message with the given identity.
func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Insert appends a message. Identities are unique within the store; a
// duplicate identity is rejected.
func (s *MessageStore) Insert(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[msg.ID]; exists {
		return fmt.Errorf("duplicate message id %q", msg.ID)
	}
	m := msg
	s.byID[m.ID] = &m
	s.order = append(s.order, m.ID)
	return nil
}

// SetStatus advances a message's status. The progression is strictly
// forward; failed is reachable only from sending or sent. Regressions
// and transitions out of failed are ignored. It reports whether the
// message changed.
func (s *MessageStore) SetStatus(id string, status MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(id, status)
}

func (s *MessageStore) setStatusLocked(id string, status MessageStatus) bool {
	m, ok := s.byID[id]
	if !ok || m.Status == status {
		return false
	}
	if m.Status == StatusFailed {
		return false
	}
	if status == StatusFailed {
		if m.Status != StatusSending && m.Status != StatusSent {
			return false
		}
		m.Status = StatusFailed
		return true
	}
	if statusRank(status) <= statusRank(m.Status) {
		return false
	}
	m.Status = status
	return true
}

// Confirm replaces a temporary local identity with the server-issued
// one in place, preserving list position, and advances the entry to
// sent with the server's timestamp. Used when the fallback send call
// returns before any realtime echo.
func (s *MessageStore) Confirm(localID, serverID string, createdAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmLocked(localID, serverID, createdAt)
}

func (s *MessageStore) confirmLocked(localID, serverID string, createdAt time.Time) bool {
	m, ok := s.byID[localID]
	if !ok || serverID == "" {
		return false
	}
	if existing, clash := s.byID[serverID]; clash && existing != m {
		// The server copy already arrived through another path. Drop
		// the stale local entry so the message stays visible exactly
		// once, at the position the server copy holds.
		delete(s.byID, localID)
		for i, id := range s.order {
			if id == localID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.setStatusLocked(serverID, StatusSent)
		return true
	}
	delete(s.byID, localID)
	m.ID = serverID
	s.byID[serverID] = m
	for i, id := range s.order {
		if id == localID {
			s.order[i] = serverID
			break
		}
	}
	s.setStatusLocked(serverID, StatusSent)
	if !createdAt.IsZero() {
		m.CreatedAt = createdAt
	}
	return true
}

// Apply reconciles one inbound event against the store and performs
// the single correct mutation, in this order, first match wins:
//
//  1. Events for another match are dropped unconditionally.
//  2. An event whose identity is already present only advances that
//     entry's status (the server echoed a message we already know).
//  3. A self-originated event is matched against a pending optimistic
//     entry — by echoed client_id when present, otherwise by identical
//     body text — whose temporary identity is then replaced in place.
//  4. Anything else is appended as a new entry, shown as delivered.
//
// Read receipts advance every own sent/delivered entry to read.
// It reports whether the store changed.
func (s *MessageStore) Apply(ev *ChatEvent) bool {
	if ev == nil || ev.MatchID != s.matchID {
		return false
	}

	if ev.Type == EventRead {
		return s.markOwnRead()
	}

	kind, ok := ev.Kind()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID != "" {
		if _, exists := s.byID[ev.ID]; exists {
			return s.setStatusLocked(ev.ID, StatusDelivered)
		}
	}

	if ev.SenderID == s.selfID {
		if local := s.findPendingLocked(ev); local != nil {
			return s.confirmLocked(local.ID, ev.ID, ev.Time())
		}
	}

	m := &Message{
		ID:        ev.ID,
		MatchID:   ev.MatchID,
		SenderID:  ev.SenderID,
		IsOwn:     ev.SenderID == s.selfID,
		Kind:      kind,
		Text:      ev.Text,
		PhotoURL:  ev.PhotoURL,
		Status:    StatusDelivered,
		CreatedAt: ev.Time(),
	}
	if m.ID == "" {
		// An event with no identity at all cannot be deduplicated
		// later; drop it rather than poison the store.
		return false
	}
	s.byID[m.ID] = m
	s.order = append(s.order, m.ID)
	return true
}

// findPendingLocked locates the optimistic entry a self-echo confirms.
// An echoed client_id is authoritative; the body-text heuristic is kept
// only for servers that do not echo it, and can mismatch when two
// identical texts are in flight at once.
func (s *MessageStore) findPendingLocked(ev *ChatEvent) *Message {
	if ev.ClientID != "" {
		if m, ok := s.byID[ev.ClientID]; ok && m.Status == StatusSending {
			return m
		}
		return nil
	}
	kind, _ := ev.Kind()
	for _, id := range s.order {
		m := s.byID[id]
		if m.Status == StatusSending && m.IsOwn && m.Kind == kind && m.Text == ev.Text {
			return m
		}
	}
	return nil
}

// markOwnRead advances every own sent/delivered message to read.
func (s *MessageStore) markOwnRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range s.order {
		m := s.byID[id]
		if m.IsOwn && (m.Status == StatusSent || m.Status == StatusDelivered) {
			m.Status = StatusRead
			changed = true
		}
	}
	return changed
}

// Seed loads fetched history into an empty store. Messages the partner
// sent are delivered; own messages are read or delivered according to
// the server's read flag.
func (s *MessageStore) Seed(history []HistoryMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range history {
		h := &history[i]
		if h.ID == "" {
			continue
		}
		if _, exists := s.byID[h.ID]; exists {
			continue
		}
		status := StatusDelivered
		own := h.SenderID == s.selfID
		if own && h.IsRead {
			status = StatusRead
		}
		created, err := time.Parse(time.RFC3339Nano, h.CreatedAt)
		if err != nil {
			created, err = time.Parse(time.RFC3339, h.CreatedAt)
		}
		if err != nil {
			created = time.Now().UTC()
		}
		m := &Message{
			ID:        h.ID,
			MatchID:   s.matchID,
			SenderID:  h.SenderID,
			IsOwn:     own,
			Kind:      MessageKind(h.Kind),
			Text:      h.Text,
			PhotoURL:  h.PhotoURL,
			Reaction:  h.Reaction,
			Status:    status,
			CreatedAt: created,
		}
		if m.Kind == "" {
			m.Kind = KindText
		}
		s.byID[m.ID] = m
		s.order = append(s.order, m.ID)
	}
}
