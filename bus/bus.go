// Package bus broadcasts changes of the current job identifier to every interested observer.
package bus

import (
	"slices"
	"sync"

	"docbridge/domain"
)

// Topic names the job-id change event, both in process and on the Redis mirror channel.
const Topic = "nn_summary_id_changed"

// JobIDChanged carries the current identifier, or an invalid ID when it was cleared. Origin is
// empty for events raised in this process and set by the mirror for events from other processes.
type JobIDChanged struct {
	ID     domain.JobID
	Origin string
}

type Publisher interface {
	Publish(ev JobIDChanged)
}

// Bus is a synchronous in-process broadcaster. Handlers run on the publishing goroutine, outside
// the bus lock, so they may subscribe, unsubscribe or publish themselves.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(JobIDChanged)
}

func New() *Bus {
	return &Bus{subs: make(map[int]func(JobIDChanged))}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(JobIDChanged)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) Publish(ev JobIDChanged) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	fns := make([]func(JobIDChanged), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
