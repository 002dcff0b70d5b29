package chat

import (
	"sync"

	"docbridge/clock"
	"docbridge/domain"
)

// Log is the ordered conversation. Entries are only appended, except that a pending answer is
// replaced once. IDs are creation times in milliseconds, bumped when two entries would collide.
type Log struct {
	clock clock.Clock

	mu      sync.Mutex
	entries []domain.ChatEntry
	lastID  int64
}

func NewLog(clk clock.Clock) *Log {
	return &Log{clock: clock.OrReal(clk)}
}

func (l *Log) Append(question string) domain.ChatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.clock.Now().UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	e := domain.ChatEntry{ID: id, Question: question, Answer: domain.PendingMarker}
	l.entries = append(l.entries, e)
	return e
}

// Resolve fills in the answer of a pending entry. It reports false when the entry is unknown or
// already answered.
func (l *Log) Resolve(id int64, answer string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID != id {
			continue
		}
		if !l.entries[i].Pending() {
			return false
		}
		l.entries[i].Answer = answer
		return true
	}
	return false
}

func (l *Log) Entries() []domain.ChatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ChatEntry(nil), l.entries...)
}
