package sync

import (
	"slices"
	"strings"
	"time"

	"github.com/wesm/tempmail/internal/mailtm"
)

// Snapshot is an immutable view of an inbox. It is rebuilt on every
// successful sync and never modified after it is handed out.
type Snapshot struct {
	Email     string           `json:"email"`
	Messages  []mailtm.Message `json:"messages"`
	Provider  string           `json:"provider"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// EmptySnapshot returns a snapshot with no messages for email.
func EmptySnapshot(email string) *Snapshot {
	return &Snapshot{
		Email:    email,
		Messages: []mailtm.Message{},
		Provider: mailtm.ProviderName,
	}
}

// newSnapshot sorts msgs newest first, breaking ties by id.
func newSnapshot(email string, msgs []mailtm.Message, fetchedAt time.Time) *Snapshot {
	sorted := slices.Clone(msgs)
	if sorted == nil {
		sorted = []mailtm.Message{}
	}
	slices.SortStableFunc(sorted, func(a, b mailtm.Message) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return &Snapshot{
		Email:     email,
		Messages:  sorted,
		Provider:  mailtm.ProviderName,
		FetchedAt: fetchedAt,
	}
}

// Contains reports whether the snapshot holds a message with id.
func (s *Snapshot) Contains(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// without returns a copy of s lacking message id, or s itself when id
// is absent.
func (s *Snapshot) without(id string) *Snapshot {
	if !s.Contains(id) {
		return s
	}
	msgs := make([]mailtm.Message, 0, len(s.Messages)-1)
	for _, m := range s.Messages {
		if m.ID != id {
			msgs = append(msgs, m)
		}
	}
	out := *s
	out.Messages = msgs
	return &out
}

// Unread counts messages not yet read.
func (s *Snapshot) Unread() int {
	n := 0
	for _, m := range s.Messages {
		if !m.Read {
			n++
		}
	}
	return n
}

// newIDs returns ids in next that prev does not hold, in next's order.
func newIDs(prev, next *Snapshot) []string {
	known := make(map[string]bool, len(prev.Messages))
	for _, m := range prev.Messages {
		known[m.ID] = true
	}
	var ids []string
	for _, m := range next.Messages {
		if !known[m.ID] {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
