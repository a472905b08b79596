package reconcile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
)

func id(v int64) *int64 { return &v }

func msg(serverID *int64, sender int64, body string, at int64) chat.Message {
	return chat.Message{
		ID:             serverID,
		ConversationID: 1,
		SenderID:       sender,
		Body:           body,
		CreatedAt:      time.Unix(at, 0),
	}
}

func bodies(msgs []chat.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestInsertSortedOrder(t *testing.T) {
	s := NewSequence(0)
	s.Insert(msg(id(2), 1, "second", 200))
	s.Insert(msg(id(1), 1, "first", 100))
	s.Insert(msg(id(3), 2, "third", 300))

	got := s.Messages()
	want := []string{"first", "second", "third"}
	for i, b := range bodies(got) {
		if b != want[i] {
			t.Fatalf("order = %v, want %v", bodies(got), want)
		}
	}
}

func TestServerIDDuplicateRejected(t *testing.T) {
	s := NewSequence(0)
	if out := s.Insert(msg(id(1), 1, "hello", 100)); out != Inserted {
		t.Fatalf("first insert = %v, want Inserted", out)
	}
	if out := s.Insert(msg(id(1), 1, "hello", 100)); out != Duplicate {
		t.Errorf("second insert = %v, want Duplicate", out)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestContentMatchWindow(t *testing.T) {
	base := msg(nil, 1, "hello", 100)
	tests := []struct {
		name  string
		other chat.Message
		want  bool
	}{
		{"same sender body and time", msg(nil, 1, "hello", 100), true},
		{"within window", msg(nil, 1, "hello", 101), true},
		{"outside window", msg(nil, 1, "hello", 102), false},
		{"different sender", msg(nil, 2, "hello", 100), false},
		{"different body", msg(nil, 1, "hey", 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentMatch(base, tt.other, DefaultTolerance); got != tt.want {
				t.Errorf("ContentMatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOptimisticEchoAcknowledged(t *testing.T) {
	s := NewSequence(0)
	local := msg(nil, 1, "hello", 100)
	local.TempID = "tmp-1"
	s.Insert(local)

	// Channel echo of the same send, now with a server identity.
	if out := s.Insert(msg(id(9), 1, "hello", 100)); out != Acknowledged {
		t.Fatalf("echo insert = %v, want Acknowledged", out)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1 (no visible duplicate)", s.Len())
	}
	got := s.Messages()[0]
	if got.ID == nil || *got.ID != 9 {
		t.Errorf("optimistic entry not upgraded with server id: %v", got.ID)
	}

	// The same server id arriving again (REST hydration) is now a duplicate.
	if out := s.Insert(msg(id(9), 1, "hello", 100)); out != Duplicate {
		t.Errorf("hydration insert = %v, want Duplicate", out)
	}
}

func TestDelayedEchoAcknowledgedByTempID(t *testing.T) {
	s := NewSequence(0)
	local := msg(nil, 1, "hello", 100)
	local.TempID = "tmp-1"
	s.Insert(local)
	s.MarkFailed("tmp-1")

	// The send was queued across a disconnect and flushed much later: the
	// echo carries a server timestamp far outside the content window, but
	// the same temp id.
	echo := msg(id(5), 1, "hello", 160)
	echo.TempID = "tmp-1"
	if out := s.Insert(echo); out != Acknowledged {
		t.Fatalf("echo insert = %v, want Acknowledged", out)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1 (no visible duplicate)", s.Len())
	}
	got := s.Messages()[0]
	if got.ID == nil || *got.ID != 5 {
		t.Errorf("entry not upgraded with server id: %v", got.ID)
	}
	if got.Failed {
		t.Error("entry still flagged failed after acknowledgment")
	}
	if !got.CreatedAt.Equal(time.Unix(160, 0)) {
		t.Errorf("CreatedAt = %v, want server time", got.CreatedAt)
	}
}

func TestTempIDMatchTakesPriorityOverContentMatch(t *testing.T) {
	s := NewSequence(0)
	a := msg(nil, 1, "hello", 100)
	a.TempID = "tmp-a"
	b := msg(nil, 1, "hello", 102)
	b.TempID = "tmp-b"
	s.Insert(a)
	s.Insert(b)

	// The echo's server timestamp content-matches both entries; the temp id
	// must pick the right one.
	echo := msg(id(5), 1, "hello", 101)
	echo.TempID = "tmp-b"
	if out := s.Insert(echo); out != Acknowledged {
		t.Fatalf("echo insert = %v, want Acknowledged", out)
	}
	for _, m := range s.Messages() {
		if m.TempID == "tmp-a" && m.ID != nil {
			t.Error("echo upgraded the wrong optimistic entry")
		}
		if m.TempID == "tmp-b" && (m.ID == nil || *m.ID != 5) {
			t.Errorf("entry tmp-b not upgraded: %v", m.ID)
		}
	}
}

func TestNoIDDuplicateWithinWindow(t *testing.T) {
	s := NewSequence(0)
	s.Insert(msg(nil, 1, "hello", 100))
	if out := s.Insert(msg(nil, 1, "hello", 100)); out != Duplicate {
		t.Errorf("insert = %v, want Duplicate", out)
	}
	// Same content well outside the window is a distinct message.
	if out := s.Insert(msg(nil, 1, "hello", 110)); out != Inserted {
		t.Errorf("insert = %v, want Inserted", out)
	}
}

func TestMalformedSkipped(t *testing.T) {
	s := NewSequence(0)
	batch := []chat.Message{
		msg(id(1), 1, "ok", 100),
		{ConversationID: 0, SenderID: 1, Body: "no conversation", CreatedAt: time.Unix(100, 0)},
		{ConversationID: 1, SenderID: 1, Body: "no timestamp"},
		msg(id(2), 1, "", 100), // empty body, not system
		msg(id(3), 2, "also ok", 200),
	}
	if n := s.InsertBatch(batch); n != 2 {
		t.Errorf("accepted = %d, want 2", n)
	}
}

func TestSystemMessageWithEmptyBodyAccepted(t *testing.T) {
	s := NewSequence(0)
	m := msg(id(1), 0, "", 100)
	m.IsSystem = true
	m.Body = "agent joined"
	if out := s.Insert(m); out != Inserted {
		t.Errorf("insert = %v, want Inserted", out)
	}
}

func TestBatchIdempotence(t *testing.T) {
	batch := []chat.Message{
		msg(id(3), 2, "c", 300),
		msg(id(1), 1, "a", 100),
		msg(id(2), 2, "b", 200),
	}

	s := NewSequence(0)
	s.InsertBatch(batch)
	once := s.Messages()

	s.InsertBatch(batch)
	twice := s.Messages()

	if len(once) != len(twice) {
		t.Fatalf("applying the batch twice changed length: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Body != twice[i].Body {
			t.Fatalf("applying the batch twice changed content: %v vs %v", bodies(once), bodies(twice))
		}
	}
}

// TestInterleavingConvergence checks that any interleaving of REST hydration
// and channel push for the same conversation converges on the same sorted,
// duplicate-free sequence.
func TestInterleavingConvergence(t *testing.T) {
	hydration := []chat.Message{
		msg(id(1), 1, "m1", 100),
		msg(id(2), 7, "m2", 200),
		msg(id(3), 1, "m3", 300),
	}
	push := []chat.Message{
		msg(id(2), 7, "m2", 200),
		msg(id(3), 1, "m3", 300),
		msg(id(4), 7, "m4", 400),
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		var events []chat.Message
		events = append(events, hydration...)
		events = append(events, push...)
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		s := NewSequence(0)
		for _, e := range events {
			s.Insert(e)
		}

		got := s.Messages()
		if len(got) != 4 {
			t.Fatalf("trial %d: len = %d, want 4", trial, len(got))
		}
		for i, want := range []string{"m1", "m2", "m3", "m4"} {
			if got[i].Body != want {
				t.Fatalf("trial %d: order = %v", trial, bodies(got))
			}
		}
	}
}

func TestStableOrderForEqualTimestamps(t *testing.T) {
	s := NewSequence(0)
	s.Insert(msg(id(1), 1, "first", 100))
	s.Insert(msg(id(2), 2, "second", 100))
	got := s.Messages()
	if got[0].Body != "first" || got[1].Body != "second" {
		t.Errorf("equal-timestamp order not stable: %v", bodies(got))
	}
}

func TestMarkFailed(t *testing.T) {
	s := NewSequence(0)
	local := msg(nil, 1, "hello", 100)
	local.TempID = "tmp-1"
	s.Insert(local)

	if !s.MarkFailed("tmp-1") {
		t.Fatal("MarkFailed did not find the optimistic entry")
	}
	if !s.Messages()[0].Failed {
		t.Error("entry not flagged failed")
	}
	if s.MarkFailed("tmp-2") {
		t.Error("MarkFailed matched a nonexistent temp id")
	}
}

func TestClearFailed(t *testing.T) {
	s := NewSequence(0)
	local := msg(nil, 1, "hello", 100)
	local.TempID = "tmp-1"
	s.Insert(local)
	s.MarkFailed("tmp-1")

	if !s.ClearFailed("tmp-1") {
		t.Fatal("ClearFailed did not find the optimistic entry")
	}
	if s.Messages()[0].Failed {
		t.Error("entry still flagged failed")
	}
	if s.ClearFailed("tmp-2") {
		t.Error("ClearFailed matched a nonexistent temp id")
	}
}
