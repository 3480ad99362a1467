package amoria

import (
	"sync"
	"time"
)

// PresenceTracker projects the narrow typing/online_status event
// vocabulary onto the partner's displayed state. Updates are idempotent
// last-write-wins on the two booleans and the last-seen timestamp;
// events for anyone but the tracked partner are ignored.
type PresenceTracker struct {
	mu      sync.RWMutex
	partner Partner
}

// NewPresenceTracker tracks the given partner's presence.
func NewPresenceTracker(partner Partner) *PresenceTracker {
	return &PresenceTracker{partner: partner}
}

// Partner returns a snapshot of the partner's current displayed state.
func (p *PresenceTracker) Partner() Partner {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.partner
}

// Apply folds one inbound event into the partner state. It reports
// whether the displayed state changed.
func (p *PresenceTracker) Apply(ev *ChatEvent) bool {
	if ev == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.SenderID != p.partner.ID {
		return false
	}

	switch ev.Type {
	case EventTyping:
		if p.partner.IsTyping == ev.IsTyping {
			return false
		}
		p.partner.IsTyping = ev.IsTyping
		return true

	case EventOnlineStatus:
		changed := p.partner.IsOnline != ev.IsOnline
		p.partner.IsOnline = ev.IsOnline
		if ev.LastSeen != "" {
			if t, err := time.Parse(time.RFC3339, ev.LastSeen); err == nil && !t.Equal(p.partner.LastSeen) {
				p.partner.LastSeen = t
				changed = true
			}
		}
		if !ev.IsOnline && p.partner.IsTyping {
			// A partner who went offline is no longer typing.
			p.partner.IsTyping = false
			changed = true
		}
		return changed
	}
	return false
}
