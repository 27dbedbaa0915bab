// Package broadcaster implements C3, the FrameBroadcaster: single-producer,
// many-consumer delivery of the latest annotated frame for a job, with
// keep-newest backpressure and cancel-on-drop subscriptions.
//
// This is a direct generalization of the reference frame bus's DropOld
// path (a sync.Cond-guarded "latest value" holder per subscriber) from a
// package-wide, subscriber-id-keyed bus into a per-job broadcaster whose
// Next takes a context for cancellation.
package broadcaster

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Meta accompanies each published frame.
type Meta struct {
	FrameIndex uint64
	Width      int
	Height     int
}

// Status is the outcome of a Subscription.Next call.
type Status int

const (
	OK Status = iota
	Ended
	Canceled
)

// Broadcaster fans out the latest annotated frame of a job to any number of
// subscribers. The zero value is not usable; construct with New.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	closed   bool
	lastSet  bool
	lastFrm  []byte
	lastMeta Meta
}

// New creates an empty, open Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*Subscription)}
}

// Publish delivers frame to every current subscriber, overwriting any frame
// still pending for a subscriber that has not yet consumed it. Never
// blocks on a slow subscriber.
func (b *Broadcaster) Publish(frame []byte, meta Meta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lastFrm, b.lastMeta, b.lastSet = frame, meta, true
	for _, s := range b.subs {
		s.push(frame, meta)
	}
}

// Subscribe registers a new subscription. If a frame has already been
// published, the subscription starts with that frame pending so the first
// Next call returns it immediately instead of blocking for the next
// Publish. If lifetime is non-nil and later cancelled, the subscription is
// automatically unsubscribed and any blocked Next call wakes with Ended —
// this is the cancel-on-drop capability required so a caller who forgets to
// Unsubscribe cannot leak the subscriber goroutine/state.
func (b *Broadcaster) Subscribe(lifetime context.Context) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	s := &Subscription{id: id, owner: b}
	s.cond = sync.NewCond(&s.mu)

	if b.closed {
		s.ended = true
		return s
	}

	if b.lastSet {
		s.frame, s.meta, s.hasFrame = b.lastFrm, b.lastMeta, true
	}

	b.subs[id] = s

	if lifetime != nil {
		go func() {
			<-lifetime.Done()
			b.Unsubscribe(s)
		}()
	}

	return s
}

// Unsubscribe removes s from the broadcaster and wakes any blocked Next
// call with Ended. Idempotent.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.end()
}

// Close marks the broadcaster ended: every pending and future Next call on
// every subscription returns Ended, and further Subscribe calls return an
// already-ended subscription. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.end()
	}
	b.subs = nil
}

// Subscription is a per-consumer handle onto a Broadcaster's frame stream.
type Subscription struct {
	id    string
	owner *Broadcaster

	mu       sync.Mutex
	cond     *sync.Cond
	frame    []byte
	meta     Meta
	hasFrame bool
	ended    bool
}

func (s *Subscription) push(frame []byte, meta Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frame = frame
	s.meta = meta
	s.hasFrame = true
	s.cond.Broadcast()
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.cond.Broadcast()
}

// Next blocks until a new frame is available, the broadcaster ends, or ctx
// is done. A pending frame is always delivered before an Ended status is
// reported, so a subscriber never loses the last frame published to it.
func (s *Subscription) Next(ctx context.Context) ([]byte, Meta, Status) {
	stop := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-stop:
			}
		}()
	}
	defer close(stop)

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.hasFrame && !s.ended && (ctx == nil || ctx.Err() == nil) {
		s.cond.Wait()
	}

	switch {
	case s.hasFrame:
		f, m := s.frame, s.meta
		s.frame, s.hasFrame = nil, false
		return f, m, OK
	case s.ended:
		return nil, Meta{}, Ended
	default:
		return nil, Meta{}, Canceled
	}
}

// Unsubscribe detaches this subscription from its broadcaster. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.owner.Unsubscribe(s)
}
