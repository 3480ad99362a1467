package amoria

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	testMatchID = "match-1"
	testSelfID  = "user-self"
	testPeerID  = "user-peer"
)

func pendingText(id, text string) Message {
	return Message{
		ID:        id,
		MatchID:   testMatchID,
		SenderID:  testSelfID,
		IsOwn:     true,
		Kind:      KindText,
		Text:      text,
		Status:    StatusSending,
		CreatedAt: time.Now().UTC(),
	}
}

func storeIDs(s *MessageStore) []string {
	msgs := s.Messages()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestMessageStore_SelfEchoByClientID(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-abc", "hi")))

	changed := s.Apply(&ChatEvent{
		Type:      EventText,
		MatchID:   testMatchID,
		ID:        "m1",
		ClientID:  "local-abc",
		SenderID:  testSelfID,
		Text:      "hi",
		CreatedAt: "2026-08-28T10:00:00Z",
	})
	require.True(t, changed)
	require.Equal(t, 1, s.Len(), "self echo must not produce a second bubble")

	m, ok := s.Get("m1")
	require.True(t, ok)
	require.Equal(t, StatusSent, m.Status)
	require.Equal(t, "hi", m.Text)
	require.True(t, m.IsOwn)

	_, stale := s.Get("local-abc")
	require.False(t, stale, "temporary identity must be gone after reconciliation")
}

func TestMessageStore_SelfEchoByTextHeuristic(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-abc", "hi")))

	// Server that does not echo client_id: fall back to body match.
	changed := s.Apply(&ChatEvent{
		Type:     EventText,
		MatchID:  testMatchID,
		ID:       "m1",
		SenderID: testSelfID,
		Text:     "hi",
	})
	require.True(t, changed)
	require.Equal(t, 1, s.Len())
	m, ok := s.Get("m1")
	require.True(t, ok)
	require.Equal(t, StatusSent, m.Status)
}

func TestMessageStore_HeuristicMatchesOldestPending(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	require.NoError(t, s.Insert(pendingText("local-2", "hi")))

	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m1", SenderID: testSelfID, Text: "hi"})

	if diff := cmp.Diff([]string{"m1", "local-2"}, storeIDs(s)); diff != "" {
		t.Errorf("store order mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageStore_ExactIDMatchOnlyBumpsStatus(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(Message{
		ID: "m1", MatchID: testMatchID, SenderID: testSelfID,
		IsOwn: true, Kind: KindText, Text: "hi", Status: StatusSent,
	}))

	changed := s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m1", SenderID: testSelfID, Text: "hi"})
	require.True(t, changed)
	require.Equal(t, 1, s.Len())
	m, _ := s.Get("m1")
	require.Equal(t, StatusDelivered, m.Status)

	// Replays of the same identity are idempotent.
	require.False(t, s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m1", SenderID: testSelfID}))
}

func TestMessageStore_PartnerMessageAppendsDelivered(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)

	changed := s.Apply(&ChatEvent{
		Type:     EventText,
		MatchID:  testMatchID,
		ID:       "m9",
		SenderID: testPeerID,
		Text:     "hello",
	})
	require.True(t, changed)
	m, ok := s.Get("m9")
	require.True(t, ok)
	require.Equal(t, StatusDelivered, m.Status, "incoming messages are never shown as merely sent")
	require.False(t, m.IsOwn)
}

func TestMessageStore_SessionIsolation(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	before := s.Messages()

	for _, ev := range []*ChatEvent{
		{Type: EventText, MatchID: "match-other", ID: "x1", SenderID: testPeerID, Text: "hey"},
		{Type: EventText, MatchID: "match-other", ID: "x2", ClientID: "local-1", SenderID: testSelfID, Text: "hi"},
		{Type: EventRead, MatchID: "match-other"},
	} {
		require.False(t, s.Apply(ev))
	}

	if diff := cmp.Diff(before, s.Messages()); diff != "" {
		t.Errorf("foreign-match event mutated the store (-want +got):\n%s", diff)
	}
}

func TestMessageStore_StatusMonotonicity(t *testing.T) {
	tests := []struct {
		name string
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{"sending to sent", StatusSending, StatusSent, true},
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"sending straight to delivered", StatusSending, StatusDelivered, true},
		{"delivered back to sent", StatusDelivered, StatusSent, false},
		{"read back to delivered", StatusRead, StatusDelivered, false},
		{"sent back to sending", StatusSent, StatusSending, false},
		{"failed from sending", StatusSending, StatusFailed, true},
		{"failed from sent", StatusSent, StatusFailed, true},
		{"failed from delivered", StatusDelivered, StatusFailed, false},
		{"failed from read", StatusRead, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMessageStore(testMatchID, testSelfID)
			require.NoError(t, s.Insert(Message{ID: "m1", MatchID: testMatchID, IsOwn: true, Kind: KindText, Status: tt.from}))
			require.Equal(t, tt.want, s.SetStatus("m1", tt.to))
			m, _ := s.Get("m1")
			if tt.want {
				require.Equal(t, tt.to, m.Status)
			} else {
				require.Equal(t, tt.from, m.Status)
			}
		})
	}
}

func TestMessageStore_FailedIsTerminal(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	require.True(t, s.SetStatus("local-1", StatusFailed))
	require.False(t, s.SetStatus("local-1", StatusSent))
	m, _ := s.Get("local-1")
	require.Equal(t, StatusFailed, m.Status)
}

func TestMessageStore_OrderPreservation(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	want := []string{"m1", "m2", "m3", "m4"}
	for _, id := range want {
		s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: id, SenderID: testPeerID, Text: "n"})
	}
	if diff := cmp.Diff(want, storeIDs(s)); diff != "" {
		t.Errorf("render order must equal arrival order (-want +got):\n%s", diff)
	}
}

func TestMessageStore_ConfirmPreservesPosition(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m1", SenderID: testPeerID, Text: "a"})
	require.NoError(t, s.Insert(pendingText("local-1", "b")))
	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m3", SenderID: testPeerID, Text: "c"})

	serverTime := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	require.True(t, s.Confirm("local-1", "m2", serverTime))

	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, storeIDs(s)); diff != "" {
		t.Errorf("in-place replacement changed positions (-want +got):\n%s", diff)
	}
	m, _ := s.Get("m2")
	require.Equal(t, StatusSent, m.Status)
	require.Equal(t, serverTime, m.CreatedAt)
}

func TestMessageStore_FallbackConfirmThenEchoReplay(t *testing.T) {
	// Scenario: connection closed, fallback send returns m2, socket
	// later reopens and the server replays m2.
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	require.True(t, s.Confirm("local-1", "m2", time.Now().UTC()))

	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m2", ClientID: "local-1", SenderID: testSelfID, Text: "hi"})

	require.Equal(t, 1, s.Len(), "replay after fallback confirm must not duplicate")
	m, _ := s.Get("m2")
	require.Equal(t, StatusDelivered, m.Status)
}

func TestMessageStore_ConfirmAfterEchoFoldsLocalEntry(t *testing.T) {
	// The echo raced ahead of the fallback response and was appended
	// as a fresh entry; confirming must fold the stale local bubble.
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m2", SenderID: testPeerID, Text: "other"})
	s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, ID: "m3", SenderID: testSelfID, Text: "raced"})

	require.True(t, s.Confirm("local-1", "m3", time.Time{}))
	if diff := cmp.Diff([]string{"m2", "m3"}, storeIDs(s)); diff != "" {
		t.Errorf("stale local entry survived (-want +got):\n%s", diff)
	}
}

func TestMessageStore_ReadReceipt(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(Message{ID: "m1", MatchID: testMatchID, IsOwn: true, Kind: KindText, Status: StatusSent}))
	require.NoError(t, s.Insert(Message{ID: "m2", MatchID: testMatchID, IsOwn: true, Kind: KindText, Status: StatusDelivered}))
	require.NoError(t, s.Insert(Message{ID: "m3", MatchID: testMatchID, SenderID: testPeerID, Kind: KindText, Status: StatusDelivered}))
	require.NoError(t, s.Insert(pendingText("local-1", "still in flight")))

	require.True(t, s.Apply(&ChatEvent{Type: EventRead, MatchID: testMatchID}))

	for id, want := range map[string]MessageStatus{
		"m1":      StatusRead,
		"m2":      StatusRead,
		"m3":      StatusDelivered, // partner's own copy is untouched
		"local-1": StatusSending,   // unacknowledged sends cannot be read
	} {
		m, _ := s.Get(id)
		require.Equal(t, want, m.Status, "message %s", id)
	}
}

func TestMessageStore_DuplicateInsertRejected(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.NoError(t, s.Insert(pendingText("local-1", "hi")))
	require.Error(t, s.Insert(pendingText("local-1", "hi")))
	require.Equal(t, 1, s.Len())
}

func TestMessageStore_SeedMapsReadFlags(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	s.Seed([]HistoryMessage{
		{ID: "m1", SenderID: testSelfID, Kind: "text", Text: "a", IsRead: true, CreatedAt: "2026-08-27T09:00:00Z"},
		{ID: "m2", SenderID: testSelfID, Kind: "text", Text: "b", CreatedAt: "2026-08-27T09:01:00Z"},
		{ID: "m3", SenderID: testPeerID, Kind: "photo", PhotoURL: "https://cdn.amoria.app/p/1.jpg", CreatedAt: "2026-08-27T09:02:00Z"},
	})

	require.Equal(t, 3, s.Len())
	m1, _ := s.Get("m1")
	require.Equal(t, StatusRead, m1.Status)
	m2, _ := s.Get("m2")
	require.Equal(t, StatusDelivered, m2.Status)
	m3, _ := s.Get("m3")
	require.Equal(t, KindPhoto, m3.Kind)
	require.False(t, m3.IsOwn)
}

func TestMessageStore_EventWithoutIdentityDropped(t *testing.T) {
	s := NewMessageStore(testMatchID, testSelfID)
	require.False(t, s.Apply(&ChatEvent{Type: EventText, MatchID: testMatchID, SenderID: testPeerID, Text: "??"}))
	require.Equal(t, 0, s.Len())
}
