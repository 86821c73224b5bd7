package gdml

import (
	"slices"
	"sync"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gexchange"
)

// Segment is the in-memory open segment of a log replica:
// the current height and the messages observed at that height.
// Log implementations embed a Segment and add replication around it.
type Segment struct {
	mu sync.RWMutex

	height uint64
	msgs   []Message
	ids    map[MessageID]struct{}
}

// NewSegment returns an empty segment open at height.
func NewSegment(height uint64) *Segment {
	return &Segment{
		height: height,
		ids:    make(map[MessageID]struct{}),
	}
}

// Height returns the height of the open segment.
func (s *Segment) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Add verifies m and appends it if it is new and stamped with the open height.
//
// A message with an invalid outer signature is [gexchange.FeedbackRejected]
// with [gcrypto.ErrInvalidSignature].
// A message for another height is [gexchange.FeedbackIgnored]
// with a [HeightMismatchError].
// A duplicate is [gexchange.FeedbackIgnored] with a nil error.
func (s *Segment) Add(m Message) (gexchange.Feedback, error) {
	if !m.Verify() {
		return gexchange.FeedbackRejected, gcrypto.ErrInvalidSignature
	}

	id := m.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Height != s.height {
		return gexchange.FeedbackIgnored, HeightMismatchError{Current: s.height, Message: m.Height}
	}

	if _, ok := s.ids[id]; ok {
		return gexchange.FeedbackIgnored, nil
	}

	s.ids[id] = struct{}{}
	s.msgs = append(s.msgs, m)
	return gexchange.FeedbackAccepted, nil
}

// Messages returns a copy of the messages at height,
// or nil if height is not open.
func (s *Segment) Messages(height uint64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if height != s.height {
		return nil
	}
	return slices.Clone(s.msgs)
}

// Snapshot returns the open height and a copy of its messages
// under a single lock acquisition.
func (s *Segment) Snapshot() (height uint64, msgs []Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, slices.Clone(s.msgs)
}

// Advance closes the open segment and opens the next height.
// It returns the committed height and its messages.
func (s *Segment) Advance() (committedHeight uint64, committed []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	committedHeight, committed = s.height, s.msgs

	s.height++
	s.msgs = nil
	clear(s.ids)

	return committedHeight, committed
}

// Restore replaces the segment contents, typically after loading from storage.
// Messages that fail verification or belong to another height are dropped,
// and the number of dropped messages is returned.
func (s *Segment) Restore(height uint64, msgs []Message) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.height = height
	s.msgs = make([]Message, 0, len(msgs))
	clear(s.ids)

	for _, m := range msgs {
		if m.Height != height || !m.Verify() {
			dropped++
			continue
		}
		id := m.ID()
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.msgs = append(s.msgs, m)
	}

	return dropped
}
