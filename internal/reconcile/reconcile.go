// Package reconcile merges messages arriving from the channel and from REST
// hydration into one duplicate-free sequence per conversation, ordered by
// creation time. The dedup decision is a pure function over the current
// sequence and a candidate so it can be tested without any I/O.
package reconcile

import (
	"sort"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
)

// DefaultTolerance is the canonical time window for content-based matching
// of messages that lack a server identity.
const DefaultTolerance = time.Second

// Outcome describes how a candidate message was applied to a sequence.
type Outcome int

const (
	// Inserted means the candidate was accepted as a new message.
	Inserted Outcome = iota
	// Duplicate means the candidate was rejected as already present.
	Duplicate
	// Acknowledged means the candidate carried a server identity and was
	// merged into an existing optimistic entry, upgrading it in place.
	Acknowledged
	// Skipped means the candidate was malformed and ignored.
	Skipped
)

// Sequence is the accepted message sequence of a single conversation,
// maintained in non-decreasing CreatedAt order.
type Sequence struct {
	msgs      []chat.Message
	ids       map[int64]struct{}
	tolerance time.Duration
}

// NewSequence creates an empty sequence. A non-positive tolerance falls back
// to DefaultTolerance.
func NewSequence(tolerance time.Duration) *Sequence {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Sequence{
		ids:       make(map[int64]struct{}),
		tolerance: tolerance,
	}
}

// Messages returns a copy of the current sequence.
func (s *Sequence) Messages() []chat.Message {
	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of accepted messages.
func (s *Sequence) Len() int {
	return len(s.msgs)
}

// Malformed reports whether a message must be skipped during reconciliation.
// One bad record must not block the rest of a history batch.
func Malformed(m chat.Message) bool {
	if m.ConversationID == 0 {
		return true
	}
	if m.CreatedAt.IsZero() {
		return true
	}
	if m.Body == "" && !m.IsSystem {
		return true
	}
	return false
}

// ContentMatch reports whether a and b describe the same logical message by
// content: same sender, same body, and creation times within tolerance.
// This is the fallback identity for messages without a server id (optimistic
// local echoes and legacy senders).
func ContentMatch(a, b chat.Message, tolerance time.Duration) bool {
	if a.SenderID != b.SenderID || a.Body != b.Body {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// IsDuplicate is the pure dedup decision: it reports whether candidate is
// already represented in seq. A candidate with a server id is a duplicate iff
// that id is present; a candidate without one is a duplicate iff some entry
// content-matches it within the tolerance window.
func IsDuplicate(seq []chat.Message, candidate chat.Message, tolerance time.Duration) bool {
	if candidate.ID != nil {
		for _, m := range seq {
			if m.ID != nil && *m.ID == *candidate.ID {
				return true
			}
		}
		return false
	}
	for _, m := range seq {
		if ContentMatch(m, candidate, tolerance) {
			return true
		}
	}
	return false
}

// Insert applies one candidate to the sequence.
//
// A candidate with a server id that carries the temp id of an existing entry
// without one, or that content-matches such an entry, does not insert a
// second copy: the optimistic entry is upgraded in place with the server
// identity. The temp id is checked first and has no time window, so a
// delayed echo (a send queued across a long disconnect) still collapses
// into its optimistic entry. This is what keeps a queued send, its channel
// echo, and later REST hydration converging on a single message.
func (s *Sequence) Insert(candidate chat.Message) Outcome {
	if Malformed(candidate) {
		return Skipped
	}

	if candidate.ID != nil {
		if _, ok := s.ids[*candidate.ID]; ok {
			return Duplicate
		}
		if candidate.TempID != "" {
			for i := range s.msgs {
				if s.msgs[i].ID == nil && s.msgs[i].TempID == candidate.TempID {
					s.acknowledge(i, candidate)
					return Acknowledged
				}
			}
		}
		for i := range s.msgs {
			if s.msgs[i].ID == nil && ContentMatch(s.msgs[i], candidate, s.tolerance) {
				s.acknowledge(i, candidate)
				return Acknowledged
			}
		}
		s.insertSorted(candidate)
		s.ids[*candidate.ID] = struct{}{}
		return Inserted
	}

	for _, m := range s.msgs {
		if ContentMatch(m, candidate, s.tolerance) {
			return Duplicate
		}
	}
	s.insertSorted(candidate)
	return Inserted
}

// InsertBatch applies a batch of candidates (history replay, REST hydration).
// Batches are not assumed pre-sorted by the source; the sequence is re-sorted
// once at the end. Returns the number of candidates accepted as new.
func (s *Sequence) InsertBatch(candidates []chat.Message) int {
	inserted := 0
	for _, c := range candidates {
		if s.Insert(c) == Inserted {
			inserted++
		}
	}
	s.resort()
	return inserted
}

// MarkFailed flags the optimistic entry with the given temp id as failed so
// the UI can offer a per-message retry. Returns false if no such entry.
func (s *Sequence) MarkFailed(tempID string) bool {
	for i := range s.msgs {
		if s.msgs[i].ID == nil && s.msgs[i].TempID == tempID {
			s.msgs[i].Failed = true
			return true
		}
	}
	return false
}

// ClearFailed removes the failed flag from the optimistic entry with the
// given temp id, putting it back in the sending state for a retry. Returns
// false if no such entry.
func (s *Sequence) ClearFailed(tempID string) bool {
	for i := range s.msgs {
		if s.msgs[i].ID == nil && s.msgs[i].TempID == tempID {
			s.msgs[i].Failed = false
			return true
		}
	}
	return false
}

// acknowledge upgrades the optimistic entry at index i with the server
// identity of candidate.
func (s *Sequence) acknowledge(i int, candidate chat.Message) {
	s.msgs[i].ID = candidate.ID
	s.msgs[i].CreatedAt = candidate.CreatedAt
	s.msgs[i].Failed = false
	s.ids[*candidate.ID] = struct{}{}
	s.resort()
}

func (s *Sequence) insertSorted(m chat.Message) {
	// Insert after all entries with CreatedAt <= m.CreatedAt (stable).
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, chat.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

func (s *Sequence) resort() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].CreatedAt.Before(s.msgs[j].CreatedAt)
	})
}
