package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

// Notification types published by the monitor.
const (
	TypeNewExchange      = "new_exchange"
	TypeReload           = "reload"
	TypeAnalysisComplete = "analysis_complete"
)

// Notification is one message streamed to UI collaborators.
type Notification struct {
	ID    int64           `json:"id"`
	Type  string          `json:"type"`
	TabID string          `json:"tab_id,omitempty"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Filter selects notification types. A nil filter accepts everything.
type Filter map[string]bool

func (f Filter) accepts(n Notification) bool {
	return f == nil || f[n.Type]
}

// Broker fans out notifications to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Notification
	nextSub     atomic.Int64
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Notification),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have notifications dropped.
func (b *Broker) Subscribe() (int64, <-chan Notification) {
	id := b.nextSub.Add(1)
	ch := make(chan Notification, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish encodes data and sends it to every subscriber without blocking.
func (b *Broker) Publish(typ, tabID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", typ, err)
	}
	n := Notification{
		ID:    b.nextID.Add(1),
		Type:  typ,
		TabID: tabID,
		At:    time.Now().UTC(),
		Data:  raw,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports notifications lost to full subscriber buffers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
