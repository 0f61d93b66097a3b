// Package eventbus provides a process-wide topic publish/subscribe registry.
//
// The bus is the only object shared between the simulation goroutine and the
// background writer goroutines without a higher-level lock. Registry mutation
// and dispatch snapshotting are serialized with a lock scoped to the registry
// only; callback execution happens outside that lock, so a callback may itself
// call Subscribe, Unsubscribe, or Publish without deadlocking.
//
// Subscriptions carry an owner identifier so a component being torn down can
// remove every callback it registered in one call. After UnsubscribeAll
// returns, no callback registered by that owner begins executing; a callback
// already in flight may still be finishing. An owner must not call
// UnsubscribeAll for itself from inside one of its own callbacks.
//
// Subscribers that must run on a particular goroutine (for example a UI loop
// that cannot be entered from a writer goroutine) register with
// SubscribeQueued: publishes post the invocation onto a Queue drained by the
// owning loop instead of running it on the publisher's goroutine.
package eventbus

import (
	"errors"
	"sync"
)

// ErrInvalidTopic is returned when subscribing or publishing with an empty topic.
var ErrInvalidTopic = errors.New("eventbus: empty topic")

// Callback receives the payload passed to Publish.
type Callback func(payload any)

// Subscription is a handle to one registered callback. It is created by the
// bus and removed either individually or in bulk by owner.
type Subscription struct {
	topic string
	owner string
	fn    Callback
	queue *Queue // nil means invoke synchronously on the publisher's goroutine

	// mu guards closed and is held for the duration of a callback invocation,
	// making teardown synchronous with in-flight delivery.
	mu     sync.Mutex
	closed bool
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() string { return s.topic }

// Owner returns the owner identifier supplied at registration.
func (s *Subscription) Owner() string { return s.owner }

// invoke runs the callback unless the subscription has been closed. The
// closed check and the call are atomic with respect to close: once close has
// observed the lock, no further invocation begins.
func (s *Subscription) invoke(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(payload)
}

// close marks the subscription dead. Blocks until any in-flight invocation of
// this subscription has finished.
func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Bus is a thread-safe topic registry. The zero value is not usable; use New.
type Bus struct {
	mu      sync.Mutex
	topics  map[string][]*Subscription
	byOwner map[string][]*Subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		topics:  make(map[string][]*Subscription),
		byOwner: make(map[string][]*Subscription),
	}
}

// Subscribe registers fn for topic. The callback runs synchronously on
// whichever goroutine calls Publish.
func (b *Bus) Subscribe(topic, owner string, fn Callback) (*Subscription, error) {
	return b.add(topic, owner, fn, nil)
}

// SubscribeQueued registers fn for topic with goroutine affinity: publishes
// post the invocation onto q, and the callback runs when the owning loop
// drains q. Use this for subscribers that must not be entered from a
// background goroutine.
func (b *Bus) SubscribeQueued(topic, owner string, q *Queue, fn Callback) (*Subscription, error) {
	if q == nil {
		return nil, errors.New("eventbus: nil queue")
	}
	return b.add(topic, owner, fn, q)
}

func (b *Bus) add(topic, owner string, fn Callback, q *Queue) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if fn == nil {
		return nil, errors.New("eventbus: nil callback")
	}
	s := &Subscription{topic: topic, owner: owner, fn: fn, queue: q}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], s)
	b.byOwner[owner] = append(b.byOwner[owner], s)
	b.mu.Unlock()
	return s, nil
}

// Publish delivers payload to every current subscriber of topic. Safe to call
// from any goroutine, concurrently with registry mutation and other
// publishes. The subscriber set is snapshotted under the registry lock, so
// dispatch order within one call is fixed (registration order) once dispatch
// begins.
func (b *Bus) Publish(topic string, payload any) {
	if topic == "" {
		return
	}
	b.mu.Lock()
	subs := b.topics[topic]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.queue != nil {
			s.queue.Post(func() { s.invoke(payload) })
			continue
		}
		s.invoke(payload)
	}
}

// Unsubscribe removes a single subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.topics[s.topic] = removeSub(b.topics[s.topic], s)
	if len(b.topics[s.topic]) == 0 {
		delete(b.topics, s.topic)
	}
	b.byOwner[s.owner] = removeSub(b.byOwner[s.owner], s)
	if len(b.byOwner[s.owner]) == 0 {
		delete(b.byOwner, s.owner)
	}
	b.mu.Unlock()
	s.close()
}

// UnsubscribeAll removes every subscription registered by owner. When it
// returns, no callback for that owner will begin; one already executing may
// still be finishing on another goroutine.
func (b *Bus) UnsubscribeAll(owner string) {
	b.mu.Lock()
	subs := b.byOwner[owner]
	delete(b.byOwner, owner)
	for _, s := range subs {
		b.topics[s.topic] = removeSub(b.topics[s.topic], s)
		if len(b.topics[s.topic]) == 0 {
			delete(b.topics, s.topic)
		}
	}
	b.mu.Unlock()

	// Close outside the registry lock: close blocks on in-flight callbacks,
	// and those callbacks are allowed to touch the registry.
	for _, s := range subs {
		s.close()
	}
}

// SubscriberCount returns the number of live subscriptions for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func removeSub(subs []*Subscription, target *Subscription) []*Subscription {
	for i, s := range subs {
		if s == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
