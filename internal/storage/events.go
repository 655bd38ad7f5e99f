package storage

import (
	"encoding/json"
	"log"
	"sync"
)

// Row-level change events. The pairing protocol runs entirely on top of this
// stream: a waiting client learns its session id from the DELETE event of its
// own queue row, and a session channel receives peer messages from INSERT
// events on the messages table.

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

const (
	TableQueue    = "match_queue"
	TableSessions = "chat_sessions"
	TableMessages = "messages"
)

// Event is one row-level change. Row holds the JSON row image; for DELETE it
// is the image as it existed just before deletion, which is what carries the
// stamped session id to the waiting side.
type Event struct {
	Table     string          `json:"table"`
	Op        Op              `json:"op"`
	Key       string          `json:"key"`
	SessionID string          `json:"session_id,omitempty"`
	Row       json.RawMessage `json:"row"`
}

// Filter selects events by equality on a single column. Only the primary key
// and session_id are supported; that is all the protocol needs.
type Filter struct {
	Column string // "id" or "session_id"
	Value  string
}

func (f Filter) Matches(e Event) bool {
	switch f.Column {
	case "id":
		return e.Key == f.Value
	case "session_id":
		return e.SessionID == f.Value
	}
	return false
}

// Subscription is a cancellable stream of matching events. The channel is
// closed on cancel and on bus shutdown.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// EventBus fans change events out to subscribers. Delivery is at-least-once:
// subscribers must tolerate a duplicate (table, key, op) triple. Per-row
// ordering (INSERT before UPDATE before DELETE) is preserved. A subscriber
// that falls behind its buffer has its stream closed rather than gapped.
type EventBus interface {
	Publish(e Event)
	Subscribe(table string, filter Filter, ops ...Op) *Subscription
	Close()
}

// subscriberBuffer bounds how far a slow consumer may fall behind before its
// stream is closed out from under it. The protocol subscribers drain
// promptly; a closed stream is observable (the channel reports !ok), a
// silently dropped event is not.
const subscriberBuffer = 64

type memorySub struct {
	table  string
	filter Filter
	ops    map[Op]bool
	ch     chan Event
}

// MemoryBus is the in-process EventBus used for single-instance deployments
// and throughout the tests.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*memorySub
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

func (b *MemoryBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		if sub.table != e.Table || !sub.filter.Matches(e) {
			continue
		}
		if len(sub.ops) > 0 && !sub.ops[e.Op] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// A subscriber this far behind would otherwise silently miss
			// events it may be waiting on. Closing the stream lets it observe
			// the loss and re-resolve instead.
			log.Printf("WARNING: event bus subscriber %d too slow, closing its stream at %s %s %s", id, e.Table, e.Op, e.Key)
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// Subscribe registers a stream for events on table matching filter. If ops is
// empty every operation is delivered.
func (b *MemoryBus) Subscribe(table string, filter Filter, ops ...Op) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	opSet := make(map[Op]bool, len(ops))
	for _, op := range ops {
		opSet[op] = true
	}

	sub := &memorySub{
		table:  table,
		filter: filter,
		ops:    opSet,
		ch:     make(chan Event, subscriberBuffer),
	}
	if b.closed {
		close(sub.ch)
		return &Subscription{C: sub.ch, cancel: func() {}}
	}
	b.subs[id] = sub

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		},
	}
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
