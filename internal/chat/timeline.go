package chat

import (
	"sort"
	"sync"

	"github.com/primeautohub/chatwidget/internal/metrics"
)

// Delta describes what one reconciliation pass changed.
type Delta struct {
	// Added are the messages newly introduced by this pass.
	Added []Message
	// NewAgentMessages counts added messages authored by the support agent.
	// The caller fires at most one notification cue per pass based on this,
	// not one per message.
	NewAgentMessages int
	// Changed reports whether the timeline content changed at all. A poll
	// cycle whose batch contains nothing new leaves Changed false and the
	// revision untouched.
	Changed bool
}

// Timeline is the single ordered, deduplicated message history of the
// current session. Batches arrive from several delivery paths (initial
// history load, poll cycles, realtime push, HTTP send responses, local
// optimistic inserts) and are merged, never overwritten wholesale.
//
// Ordering invariant: ascending CreatedAt, ties and missing timestamps
// broken by insertion order. Messages that carry a backend-assigned ID never
// reorder relative to each other across passes.
//
// Thread-safety: all methods are safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	msgs    []Message
	byID    map[int64]struct{}
	arrival uint64
	rev     uint64
	closed  bool
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		byID: make(map[int64]struct{}),
	}
}

// Merge folds a batch of incoming messages into the timeline.
//
// Rules:
//   - a message whose ID is already present is a duplicate and is dropped
//   - an incoming visitor-authored message resolves a pending optimistic
//     entry with the same text (realtime echo of our own send)
//   - if nothing new arrived, the timeline is left untouched (Revision
//     does not change, preventing pointless UI refreshes)
//
// Merging into a closed timeline is a no-op; late poll responses arriving
// after teardown are silently ignored.
func (t *Timeline) Merge(batch []Message) Delta {
	t.mu.Lock()
	defer t.mu.Unlock()

	var delta Delta
	if t.closed || len(batch) == 0 {
		return delta
	}

	for _, msg := range batch {
		if msg.ID != 0 {
			if _, dup := t.byID[msg.ID]; dup {
				metrics.DuplicatesDropped.Inc()
				continue
			}
		}

		// Realtime echo of our own optimistic send: swap the temporary
		// entry for the confirmed one instead of appending a second copy.
		if msg.ID != 0 && msg.Sender == SenderClient {
			if i := t.pendingIndexLocked(msg.Text); i >= 0 {
				msg.LocalID = ""
				msg.arrival = t.msgs[i].arrival
				t.msgs[i] = msg
				t.byID[msg.ID] = struct{}{}
				delta.Changed = true
				continue
			}
		}

		msg.LocalID = ""
		t.arrival++
		msg.arrival = t.arrival
		t.msgs = append(t.msgs, msg)
		if msg.ID != 0 {
			t.byID[msg.ID] = struct{}{}
		}

		delta.Added = append(delta.Added, msg)
		if msg.Sender == SenderAdmin {
			delta.NewAgentMessages++
		}
		delta.Changed = true
	}

	if delta.Changed {
		t.resortLocked()
		t.rev++
	}
	return delta
}

// AddLocal appends an optimistic visitor message before any network
// acknowledgment and returns its temporary identifier. The entry is later
// resolved by ResolveLocal (or the realtime echo) or rolled back by
// DropLocal; it must never remain as an unconfirmed ghost.
func (t *Timeline) AddLocal(msg Message) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ""
	}

	msg.ID = 0
	msg.LocalID = newLocalID()
	t.arrival++
	msg.arrival = t.arrival
	t.msgs = append(t.msgs, msg)
	t.resortLocked()
	t.rev++
	return msg.LocalID
}

// ResolveLocal replaces the optimistic entry with the backend-confirmed
// message. If the confirmation already landed through another delivery path
// the temporary entry is simply dropped.
func (t *Timeline) ResolveLocal(localID string, confirmed Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || localID == "" {
		return
	}

	i := t.localIndexLocked(localID)

	if confirmed.ID != 0 {
		if _, dup := t.byID[confirmed.ID]; dup {
			if i >= 0 {
				t.removeAtLocked(i)
				t.rev++
			}
			return
		}
	}

	confirmed.LocalID = ""
	if i >= 0 {
		confirmed.arrival = t.msgs[i].arrival
		t.msgs[i] = confirmed
	} else {
		t.arrival++
		confirmed.arrival = t.arrival
		t.msgs = append(t.msgs, confirmed)
	}
	if confirmed.ID != 0 {
		t.byID[confirmed.ID] = struct{}{}
	}
	t.resortLocked()
	t.rev++
}

// DropLocal rolls back an optimistic entry after a failed send.
func (t *Timeline) DropLocal(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || localID == "" {
		return
	}

	if i := t.localIndexLocked(localID); i >= 0 {
		t.removeAtLocked(i)
		t.rev++
	}
}

// Messages returns a copy of the ordered timeline.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages in the timeline.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Revision returns a counter that changes only when timeline content
// changes. UI layers compare revisions to skip redundant re-renders.
func (t *Timeline) Revision() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rev
}

// Close tears the timeline down; all further mutations become no-ops.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// resortLocked restores the ordering invariant. The sort is stable, so
// entries comparing equal keep their existing relative order.
func (t *Timeline) resortLocked() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		a, b := t.msgs[i], t.msgs[j]
		switch {
		case !a.CreatedAt.IsZero() && !b.CreatedAt.IsZero():
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.arrival < b.arrival
			}
			return a.CreatedAt.Before(b.CreatedAt)
		case a.CreatedAt.IsZero() && b.CreatedAt.IsZero():
			return a.arrival < b.arrival
		default:
			// Entries without a server timestamp yet (optimistic sends)
			// sort after settled messages.
			return b.CreatedAt.IsZero()
		}
	})
}

func (t *Timeline) pendingIndexLocked(text string) int {
	for i, m := range t.msgs {
		if m.Pending() && m.Text == text {
			return i
		}
	}
	return -1
}

func (t *Timeline) localIndexLocked(localID string) int {
	for i, m := range t.msgs {
		if m.LocalID == localID {
			return i
		}
	}
	return -1
}

func (t *Timeline) removeAtLocked(i int) {
	t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
}
