package tracking

import "time"

const defaultOrphanCapacity = 500

// Orphan is an exchange that arrived for a tab with no session, typically a
// worker or background fetch.
type Orphan struct {
	TabID     string    `json:"tab_id"`
	RequestID string    `json:"request_id"`
	URL       string    `json:"url"`
	Direction Direction `json:"direction"`
	At        time.Time `json:"at"`
}

// orphanBuffer keeps the most recent orphans, overwriting the oldest.
type orphanBuffer struct {
	items []Orphan
	head  int
	count int
}

func newOrphanBuffer(capacity int) *orphanBuffer {
	if capacity <= 0 {
		capacity = defaultOrphanCapacity
	}
	return &orphanBuffer{items: make([]Orphan, capacity)}
}

func (b *orphanBuffer) add(o Orphan) {
	capacity := len(b.items)
	if b.count == capacity {
		b.items[b.head] = o
		b.head = (b.head + 1) % capacity
		return
	}
	b.items[(b.head+b.count)%capacity] = o
	b.count++
}

// all returns orphans oldest first.
func (b *orphanBuffer) all() []Orphan {
	out := make([]Orphan, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}
