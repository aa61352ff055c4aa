package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
)

// SubscriberID is the opaque token handed out by Subscribe
type SubscriberID string

// DropPolicy decides which message is discarded when a subscriber queue is full
type DropPolicy string

const (
	// DropOldest evicts the head of the queue to make room for the new message
	DropOldest DropPolicy = "drop-oldest"
	// DropNewest discards the incoming message and keeps the queue as is
	DropNewest DropPolicy = "drop-newest"
)

const (
	DefaultQueueCapacity = 100
	DefaultBatchSize     = 20
)

// Options configures a Registry
type Options struct {
	// QueueCapacity is used when Subscribe is called with capacity <= 0
	QueueCapacity int
	// BatchSize caps how many messages one GetMessages call returns
	BatchSize int
	DropPolicy DropPolicy
}

// Subscriber is one registration. Its queue is only reachable through the Registry.
type Subscriber struct {
	ID        SubscriberID
	CreatedAt time.Time

	tags  []TagID
	queue *ring

	mu      sync.Mutex
	closed  bool
	notify  chan struct{}
	dropped atomic.Uint64
}

// Tags returns a copy of the subscriber's tag set
func (s *Subscriber) Tags() []TagID {
	out := make([]TagID, len(s.tags))
	copy(out, s.tags)
	return out
}

// Dropped returns how many messages were discarded for this subscriber
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// offer enqueues msg without blocking. It reports whether a message was dropped.
func (s *Subscriber) offer(msg Message, policy DropPolicy) (accepted, dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}
	if s.queue.full() {
		dropped = true
		if policy == DropNewest {
			s.mu.Unlock()
			s.dropped.Add(1)
			return false, true
		}
		s.queue.pop()
	}
	s.queue.push(msg)
	s.mu.Unlock()

	if dropped {
		s.dropped.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true, dropped
}

func (s *Subscriber) drain(max int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.queue.len()
	if n > max {
		n = max
	}
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.queue.pop())
	}
	return out
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = newRing(0)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Registry owns the tag index and every subscriber queue. All structural
// changes take the write lock; Deliver runs under the read lock, so once
// Unsubscribe returns no later delivery can reach the removed subscriber.
type Registry struct {
	opts Options

	mu          sync.RWMutex
	subscribers map[SubscriberID]*Subscriber
	tagIndex    map[TagID]map[SubscriberID]*Subscriber

	dropped atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.DropPolicy == "" {
		opts.DropPolicy = DropOldest
	}
	return &Registry{
		opts:        opts,
		subscribers: make(map[SubscriberID]*Subscriber),
		tagIndex:    make(map[TagID]map[SubscriberID]*Subscriber),
	}
}

// Subscribe registers interest in tags and returns a fresh id.
// capacity <= 0 uses the registry default.
func (r *Registry) Subscribe(tags []TagID, capacity int) SubscriberID {
	if capacity <= 0 {
		capacity = r.opts.QueueCapacity
	}

	seen := make(map[TagID]struct{}, len(tags))
	unique := make([]TagID, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	sub := &Subscriber{
		ID:        SubscriberID(uuid.New().String()),
		CreatedAt: time.Now(),
		tags:      unique,
		queue:     newRing(capacity),
		notify:    make(chan struct{}, 1),
	}

	r.mu.Lock()
	r.subscribers[sub.ID] = sub
	for _, t := range unique {
		set, ok := r.tagIndex[t]
		if !ok {
			set = make(map[SubscriberID]*Subscriber)
			r.tagIndex[t] = set
		}
		set[sub.ID] = sub
	}
	count := len(r.subscribers)
	r.mu.Unlock()

	metrics.GetProvider().SetSubscribers(count)
	logger.Debug("[Fanout] Subscriber %s registered for %d tags", sub.ID, len(unique))
	return sub.ID
}

// Unsubscribe removes id from every tag and discards its queue. Unknown ids are a no-op.
func (r *Registry) Unsubscribe(id SubscriberID) bool {
	r.mu.Lock()
	sub, ok := r.subscribers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.subscribers, id)
	for _, t := range sub.tags {
		if set, ok := r.tagIndex[t]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.tagIndex, t)
			}
		}
	}
	count := len(r.subscribers)
	r.mu.Unlock()

	// Wakes a GetMessages call blocked on this subscriber
	sub.close()

	metrics.GetProvider().SetSubscribers(count)
	logger.Debug("[Fanout] Subscriber %s removed", id)
	return true
}

// GetMessages waits up to timeout for at least one message, then returns up to
// the batch size of already queued messages. It returns an empty slice on
// timeout, on ctx cancellation and for unknown ids.
func (r *Registry) GetMessages(ctx context.Context, id SubscriberID, timeout time.Duration) []Message {
	sub := r.lookup(id)
	if sub == nil {
		logger.Warn("[Fanout] %v: %s", ErrUnknownSubscriber, id)
		return []Message{}
	}

	if msgs := sub.drain(r.opts.BatchSize); len(msgs) > 0 {
		return msgs
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-sub.notify:
			msgs := sub.drain(r.opts.BatchSize)
			if len(msgs) > 0 || sub.isClosed() {
				return msgs
			}
		case <-timer.C:
			return []Message{}
		case <-ctx.Done():
			return []Message{}
		}
	}
}

// Deliver enqueues msg on every subscriber interested in its tag and returns
// how many queues accepted it and how many messages were dropped to do so.
func (r *Registry) Deliver(msg Message) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.tagIndex[msg.TagID] {
		ok, lost := sub.offer(msg, r.opts.DropPolicy)
		if ok {
			delivered++
		}
		if lost {
			dropped++
		}
	}
	if dropped > 0 {
		r.dropped.Add(uint64(dropped))
	}
	return delivered, dropped
}

// Subscriber returns the registration for id
func (r *Registry) Subscriber(id SubscriberID) (*Subscriber, bool) {
	sub := r.lookup(id)
	return sub, sub != nil
}

// Count returns the number of registered subscribers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// CountForTag returns the number of subscribers interested in tag
func (r *Registry) CountForTag(tag TagID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tagIndex[tag])
}

// Dropped returns the total number of messages lost to backpressure
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// Policy returns the drop policy in effect
func (r *Registry) Policy() DropPolicy {
	return r.opts.DropPolicy
}

func (r *Registry) lookup(id SubscriberID) *Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscribers[id]
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ring is a fixed size FIFO
type ring struct {
	items []Message
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]Message, capacity)}
}

func (q *ring) len() int   { return q.count }
func (q *ring) full() bool { return q.count == len(q.items) }

func (q *ring) push(m Message) {
	q.items[(q.head+q.count)%len(q.items)] = m
	q.count++
}

func (q *ring) pop() Message {
	m := q.items[q.head]
	q.items[q.head] = Message{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return m
}
