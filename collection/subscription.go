package collection

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/totegamma/cozykost"
)

type Handler struct {
	// OnSnapshot receives the complete collection, never a delta.
	OnSnapshot func(items cozykost.Items)
	// OnError receives delivery failures. The subscription stays registered.
	OnError func(err error)
}

type delivery struct {
	items    cozykost.Items
	err      error
	snapshot bool
}

// Subscription is a live registration on one collection.
//
// Callbacks run on a dedicated goroutine, one at a time, in arrival order. A snapshot that
// is still queued when a newer one arrives is replaced by it.
//
// Stopping is best effort. Unsubscribe drops everything still queued, but a delivery the
// goroutine dequeued just before Unsubscribe ran may still reach its callback afterwards,
// at most one. Done is closed once no callback is running and none will start, so callers
// that need a hard stop wait on Done after Unsubscribe.
type Subscription struct {
	c       *Collection
	key     key
	handler Handler
	cancel  context.CancelFunc

	mu           sync.Mutex
	queue        []delivery
	closed       bool
	seen         bool
	lastRevision int64
	lastHash     uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(c *Collection, k key, handler Handler, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		c:       c,
		key:     k,
		handler: handler,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) Owner() string {
	return s.key.owner
}

func (s *Subscription) Name() cozykost.CollectionName {
	return s.key.name
}

// Done is closed when no callback is running and none will run again.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe is idempotent and may be called from inside a callback. It does not wait
// for a callback that is already running or about to start; see Done.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		close(s.stop)
		s.cancel()
		s.c.detach(s)
	})
}

// revoke stops the upstream stream after the identity it was opened for went away.
func (s *Subscription) revoke() {
	s.cancel()
	s.offerError(&OpError{Op: "subscribe", Owner: s.key.owner, Name: s.key.name, Kind: ErrNotAuthenticated})
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) offerError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, delivery{err: err})
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) offerSnapshot(items cozykost.Items) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if n := len(s.queue); n > 0 && s.queue[n-1].snapshot {
		s.queue[n-1].items = items
	} else {
		s.queue = append(s.queue, delivery{items: items, snapshot: true})
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) pump(parent context.Context, ctx context.Context, events <-chan cozykost.Event) {
	for {
		select {
		case <-parent.Done():
			s.Unsubscribe()
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					s.offerError(&OpError{
						Op:    "subscribe",
						Owner: s.key.owner,
						Name:  s.key.name,
						Kind:  ErrRemoteUnavailable,
						Err:   errors.New("stream closed"),
					})
				}
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Subscription) handle(ev cozykost.Event) {
	switch ev.Type {
	case cozykost.EventTypeError:
		s.offerError(&OpError{
			Op:    "subscribe",
			Owner: s.key.owner,
			Name:  s.key.name,
			Kind:  ErrRemoteUnavailable,
			Err:   errors.New(ev.Error),
		})
	case cozykost.EventTypeSnapshot:
		if ev.Snapshot == nil {
			return
		}
		s.handleSnapshot(*ev.Snapshot)
	default:
		s.c.logger.Debug("unknown event type",
			slog.String("type", ev.Type),
			slog.String("module", "collection"),
		)
	}
}

func (s *Subscription) handleSnapshot(snap cozykost.Snapshot) {
	items, err := snap.Items()
	if err != nil {
		s.offerError(&OpError{
			Op:    "subscribe",
			Owner: s.key.owner,
			Name:  s.key.name,
			Kind:  ErrRemoteUnavailable,
			Err:   err,
		})
		return
	}
	hash := xxh3.Hash(snap.Value)

	s.mu.Lock()
	if s.closed || (s.seen && snap.Revision < s.lastRevision) {
		s.mu.Unlock()
		return
	}
	if s.seen && snap.Revision == s.lastRevision && hash == s.lastHash {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	items, revision := s.c.accept(s.key, items, snap.Revision)

	s.mu.Lock()
	if s.seen && revision == s.lastRevision && revision != snap.Revision {
		// cache is ahead and this subscriber already saw that state
		s.mu.Unlock()
		return
	}
	s.seen = true
	s.lastRevision = revision
	s.lastHash = 0
	if revision == snap.Revision {
		s.lastHash = hash
	}
	s.mu.Unlock()

	s.offerSnapshot(items.Clone())
}

func (s *Subscription) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

func (s *Subscription) deliver() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			d, ok := s.next()
			if !ok {
				break
			}
			// d may still be dispatched if Unsubscribe runs from here on
			if d.snapshot {
				if s.handler.OnSnapshot != nil {
					s.handler.OnSnapshot(d.items)
				}
			} else if s.handler.OnError != nil {
				s.handler.OnError(d.err)
			}
		}
	}
}
