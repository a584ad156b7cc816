// Package collection keeps a local, observable copy of a user's remote collections
// (favorites, saved) and writes changes through to the remote store optimistically.
//
// The local view of a collection is always the last authoritative remote state with the
// still pending local writes applied on top, in call order. A snapshot received from the
// store replaces the authoritative state outright unless the cache already holds a newer
// revision. A pending write whose item was changed by that snapshot is superseded and no
// longer shown. Writes to one collection reach the store one at a time in call order; a
// confirmed write settles the cache at the revision the store reported for it, after which
// only strictly newer snapshots are accepted. A failed write is dropped from the view,
// which returns the view to what it was before the call.
package collection

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/cozykost"
)

var tracer = otel.Tracer("collection")

type key struct {
	owner string
	name  cozykost.CollectionName
}

type op struct {
	seq        uint64
	id         string
	item       *cozykost.Item // nil removes
	superseded bool
}

func (o *op) apply(items cozykost.Items) {
	if o.item == nil {
		delete(items, o.id)
		return
	}
	items[o.id] = *o.item
}

type state struct {
	base     cozykost.Items
	revision int64
	// confirmed is set once a write was acknowledged on top of revision. Other
	// snapshots at that revision may predate the write.
	confirmed bool
	local     cozykost.Items
	pending   []*op
	nextSeq   uint64
	turn      uint64
	subs      map[*Subscription]struct{}
}

func newState() *state {
	return &state{
		base:  cozykost.Items{},
		local: cozykost.Items{},
		subs:  make(map[*Subscription]struct{}),
	}
}

func (st *state) derive() {
	local := st.base.Clone()
	for _, o := range st.pending {
		if !o.superseded {
			o.apply(local)
		}
	}
	st.local = local
}

func (st *state) enqueue(id string, item *cozykost.Item) *op {
	o := &op{seq: st.nextSeq, id: id, item: item}
	st.nextSeq++
	st.pending = append(st.pending, o)
	o.apply(st.local)
	return o
}

func (st *state) finish(o *op, ack cozykost.Snapshot, err error) {
	for i, p := range st.pending {
		if p == o {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			break
		}
	}
	if err == nil {
		if !o.superseded {
			o.apply(st.base)
		}
		st.settle(ack)
	}
	st.derive()
	st.turn++
}

// settle adopts the state the store reported after a confirmed write.
func (st *state) settle(ack cozykost.Snapshot) {
	if ack.Revision > st.revision {
		if items, err := ack.Items(); err == nil {
			st.applySnapshot(items, ack.Revision)
		}
	}
	st.confirmed = true
}

func (st *state) accepts(revision int64) bool {
	if st.confirmed {
		return revision > st.revision
	}
	return revision >= st.revision
}

// applySnapshot replaces the authoritative state. Snapshots older than the current
// revision are ignored, and so are snapshots at the current revision once a write has
// been confirmed on top of it.
func (st *state) applySnapshot(items cozykost.Items, revision int64) bool {
	if !st.accepts(revision) {
		return false
	}
	prev := st.base
	st.base = items.Clone()
	st.revision = revision
	st.confirmed = false
	for _, o := range st.pending {
		if changed(prev, st.base, o.id) {
			o.superseded = true
		}
	}
	st.derive()
	return true
}

func changed(before, after cozykost.Items, id string) bool {
	a, inBefore := before[id]
	b, inAfter := after[id]
	return inBefore != inAfter || a != b
}

// Collection is safe for concurrent use.
type Collection struct {
	store    Store
	identity IdentityProvider
	logger   *slog.Logger

	mu       sync.Mutex
	turnCond *sync.Cond
	states   map[key]*state
	stopAuth func()
}

type Option func(*Collection)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

func New(store Store, identity IdentityProvider, opts ...Option) *Collection {
	c := &Collection{
		store:    store,
		identity: identity,
		logger:   slog.Default(),
		states:   make(map[key]*state),
	}
	c.turnCond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	c.stopAuth = identity.OnAuthChange(c.handleAuthChange)
	return c
}

// Close ends every subscription and detaches from the identity provider.
func (c *Collection) Close() {
	if c.stopAuth != nil {
		c.stopAuth()
	}

	c.mu.Lock()
	var subs []*Subscription
	for _, st := range c.states {
		for sub := range st.subs {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// state must be called with c.mu held.
func (c *Collection) state(k key) *state {
	st, ok := c.states[k]
	if !ok {
		st = newState()
		c.states[k] = st
	}
	return st
}

func (c *Collection) authorize(opName, owner string, name cozykost.CollectionName) error {
	if !name.Valid() {
		return &OpError{Op: opName, Owner: owner, Name: name, Kind: ErrInvalidArgument}
	}
	uid, ok := c.identity.CurrentUserID()
	if !ok || owner == "" || uid != owner {
		return &OpError{Op: opName, Owner: owner, Name: name, Kind: ErrNotAuthenticated}
	}
	return nil
}

func startSpan(ctx context.Context, name, owner string, coll cozykost.CollectionName) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("owner", owner),
		attribute.String("collection", string(coll)),
	)
	return ctx, span
}

// Load fetches the whole collection once. An absent collection is empty. When the
// cache already holds a newer state than the one fetched, that state is returned.
func (c *Collection) Load(ctx context.Context, owner string, name cozykost.CollectionName) (cozykost.Items, error) {
	ctx, span := startSpan(ctx, "Collection.Load", owner, name)
	defer span.End()

	if err := c.authorize("load", owner, name); err != nil {
		span.RecordError(err)
		return nil, err
	}

	snap, err := c.store.Read(ctx, cozykost.CollectionPath(owner, name))
	if err != nil {
		err = &OpError{Op: "load", Owner: owner, Name: name, Kind: readKind(err), Err: err}
		span.RecordError(err)
		return nil, err
	}

	items, err := snap.Items()
	if err != nil {
		err = &OpError{Op: "load", Owner: owner, Name: name, Kind: ErrRemoteUnavailable, Err: err}
		span.RecordError(err)
		return nil, err
	}

	c.mu.Lock()
	st := c.state(key{owner, name})
	if !st.applySnapshot(items, snap.Revision) {
		c.logger.DebugContext(ctx, "stale load result not cached",
			slog.String("path", snap.Path),
			slog.Int64("revision", snap.Revision),
			slog.Int64("cached", st.revision),
			slog.String("module", "collection"),
		)
		items = st.base.Clone()
	}
	c.mu.Unlock()

	return items, nil
}

// Local returns a copy of the current local view.
func (c *Collection) Local(owner string, name cozykost.CollectionName) cozykost.Items {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[key{owner, name}]
	if !ok {
		return cozykost.Items{}
	}
	return st.local.Clone()
}

// Add inserts or replaces item under item.ID. The ID must be non-empty and free of '/'.
func (c *Collection) Add(ctx context.Context, owner string, name cozykost.CollectionName, item cozykost.Item) error {
	ctx, span := startSpan(ctx, "Collection.Add", owner, name)
	defer span.End()

	if err := c.authorize("add", owner, name); err != nil {
		span.RecordError(err)
		return err
	}
	if !cozykost.ValidItemID(item.ID) {
		return &OpError{Op: "add", Owner: owner, Name: name, Kind: ErrInvalidArgument}
	}

	k := key{owner, name}
	c.mu.Lock()
	st := c.state(k)
	o := st.enqueue(item.ID, &item)
	c.mu.Unlock()

	err := c.commit(ctx, "add", k, st, o)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Remove deletes id. Removing an absent id is not an error.
func (c *Collection) Remove(ctx context.Context, owner string, name cozykost.CollectionName, id string) error {
	ctx, span := startSpan(ctx, "Collection.Remove", owner, name)
	defer span.End()

	if err := c.authorize("remove", owner, name); err != nil {
		span.RecordError(err)
		return err
	}
	if !cozykost.ValidItemID(id) {
		return &OpError{Op: "remove", Owner: owner, Name: name, Kind: ErrInvalidArgument}
	}

	k := key{owner, name}
	c.mu.Lock()
	st := c.state(k)
	o := st.enqueue(id, nil)
	c.mu.Unlock()

	err := c.commit(ctx, "remove", k, st, o)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Toggle removes item.ID when present in the local view and adds item otherwise.
// It reports which branch was taken.
func (c *Collection) Toggle(ctx context.Context, owner string, name cozykost.CollectionName, item cozykost.Item) (bool, error) {
	ctx, span := startSpan(ctx, "Collection.Toggle", owner, name)
	defer span.End()

	if err := c.authorize("toggle", owner, name); err != nil {
		span.RecordError(err)
		return false, err
	}
	if !cozykost.ValidItemID(item.ID) {
		return false, &OpError{Op: "toggle", Owner: owner, Name: name, Kind: ErrInvalidArgument}
	}

	k := key{owner, name}
	c.mu.Lock()
	st := c.state(k)
	_, present := st.local[item.ID]
	var o *op
	if present {
		o = st.enqueue(item.ID, nil)
	} else {
		o = st.enqueue(item.ID, &item)
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Bool("added", !present))

	err := c.commit(ctx, "toggle", k, st, o)
	if err != nil {
		span.RecordError(err)
	}
	return !present, err
}

// commit waits for o's turn, performs the remote write and settles the pending op.
func (c *Collection) commit(ctx context.Context, opName string, k key, st *state, o *op) error {
	c.mu.Lock()
	for st.turn != o.seq {
		c.turnCond.Wait()
	}
	c.mu.Unlock()

	path := cozykost.ItemPath(k.owner, k.name, o.id)
	var (
		ack cozykost.Snapshot
		err error
	)
	if o.item != nil {
		ack, err = c.store.Write(ctx, path, *o.item)
	} else {
		ack, err = c.store.Delete(ctx, path)
	}

	c.mu.Lock()
	st.finish(o, ack, err)
	c.turnCond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		return &OpError{Op: opName, Owner: k.owner, Name: k.name, Kind: ErrWriteFailed, Err: err}
	}
	return nil
}

// Subscribe opens a live view of the collection. See Subscription.
func (c *Collection) Subscribe(ctx context.Context, owner string, name cozykost.CollectionName, handler Handler) (*Subscription, error) {
	ctx, span := startSpan(ctx, "Collection.Subscribe", owner, name)
	defer span.End()

	if err := c.authorize("subscribe", owner, name); err != nil {
		span.RecordError(err)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := c.store.Observe(streamCtx, cozykost.CollectionPath(owner, name))
	if err != nil {
		cancel()
		err = &OpError{Op: "subscribe", Owner: owner, Name: name, Kind: readKind(err), Err: err}
		span.RecordError(err)
		return nil, err
	}

	k := key{owner, name}
	sub := newSubscription(c, k, handler, cancel)

	c.mu.Lock()
	c.state(k).subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.deliver()
	go sub.pump(ctx, streamCtx, events)

	return sub, nil
}

func (c *Collection) detach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[sub.key]; ok {
		delete(st.subs, sub)
	}
}

// accept applies a snapshot received by sub. When the cache already holds a newer
// revision, that state is returned instead.
func (c *Collection) accept(k key, items cozykost.Items, revision int64) (cozykost.Items, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(k)
	if st.applySnapshot(items, revision) {
		return items, revision
	}
	return st.base.Clone(), st.revision
}

func (c *Collection) handleAuthChange(userID string, ok bool) {
	c.mu.Lock()
	var stale []*Subscription
	for k, st := range c.states {
		if ok && k.owner == userID {
			continue
		}
		st.base = cozykost.Items{}
		st.revision = 0
		st.confirmed = false
		st.derive()
		for sub := range st.subs {
			stale = append(stale, sub)
		}
		if len(st.pending) == 0 && len(st.subs) == 0 {
			delete(c.states, k)
		}
	}
	c.mu.Unlock()

	for _, sub := range stale {
		sub.revoke()
	}

	c.logger.Debug("identity changed",
		slog.Bool("authenticated", ok),
		slog.Int("revokedSubscriptions", len(stale)),
		slog.String("module", "collection"),
	)
}
