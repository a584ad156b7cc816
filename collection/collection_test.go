package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/cozykost"
)

// --- fakes ---

type observer struct {
	ctx context.Context
	ch  chan cozykost.Event
}

type fakeStore struct {
	mu        sync.Mutex
	data      map[string]cozykost.Items
	revisions map[string]int64
	observers map[string][]*observer
	writes    []string
	readErr   error
	writeErr  error
	gate      chan struct{}
	entered   chan string
	// bareAck makes writes succeed without reporting the resulting revision.
	bareAck bool
	// readGate holds Read after it captured its snapshot.
	readGate    chan struct{}
	readEntered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:      make(map[string]cozykost.Items),
		revisions: make(map[string]int64),
		observers: make(map[string][]*observer),
		entered:   make(chan string, 16),

		readEntered: make(chan struct{}, 16),
	}
}

func (f *fakeStore) seed(path string, items cozykost.Items, revision int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[path] = items.Clone()
	f.revisions[path] = revision
}

func (f *fakeStore) snapshot(path string) cozykost.Snapshot {
	snap := cozykost.Snapshot{Path: path, Revision: f.revisions[path]}
	if items, ok := f.data[path]; ok && len(items) > 0 {
		snap.Value, _ = json.Marshal(items)
	}
	return snap
}

func (f *fakeStore) Read(ctx context.Context, path string) (cozykost.Snapshot, error) {
	f.mu.Lock()
	if f.readErr != nil {
		f.mu.Unlock()
		return cozykost.Snapshot{}, f.readErr
	}
	snap := f.snapshot(path)
	gate := f.readGate
	f.mu.Unlock()

	if gate != nil {
		f.readEntered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return cozykost.Snapshot{}, ctx.Err()
		}
	}
	return snap, nil
}

func (f *fakeStore) mutate(ctx context.Context, path string, value *cozykost.Item) (cozykost.Snapshot, error) {
	f.entered <- path
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return cozykost.Snapshot{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, path)
	if f.writeErr != nil {
		return cozykost.Snapshot{}, f.writeErr
	}

	p, err := cozykost.ParsePath(path)
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	collPath := cozykost.CollectionPath(p.Owner, p.Collection)
	items, ok := f.data[collPath]
	if !ok {
		items = cozykost.Items{}
		f.data[collPath] = items
	}
	if value == nil {
		delete(items, p.ItemID)
	} else {
		items[p.ItemID] = *value
	}
	f.revisions[collPath]++
	if f.bareAck {
		return cozykost.Snapshot{}, nil
	}
	return f.snapshot(collPath), nil
}

func (f *fakeStore) Write(ctx context.Context, path string, value any) (cozykost.Snapshot, error) {
	item := value.(cozykost.Item)
	return f.mutate(ctx, path, &item)
}

func (f *fakeStore) Delete(ctx context.Context, path string) (cozykost.Snapshot, error) {
	return f.mutate(ctx, path, nil)
}

func (f *fakeStore) Observe(ctx context.Context, path string) (<-chan cozykost.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}

	obs := &observer{ctx: ctx, ch: make(chan cozykost.Event, 16)}
	snap := f.snapshot(path)
	obs.ch <- cozykost.Event{Type: cozykost.EventTypeSnapshot, Path: path, Snapshot: &snap}
	f.observers[path] = append(f.observers[path], obs)

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.observers[path]
		for i, o := range list {
			if o == obs {
				f.observers[path] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(obs.ch)
	}()
	return obs.ch, nil
}

func (f *fakeStore) send(path string, ev cozykost.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.observers[path] {
		if o.ctx.Err() == nil {
			o.ch <- ev
		}
	}
}

// push delivers the store's current value to every observer of path.
func (f *fakeStore) push(path string) {
	f.mu.Lock()
	snap := f.snapshot(path)
	f.mu.Unlock()
	f.send(path, cozykost.Event{Type: cozykost.EventTypeSnapshot, Path: path, Snapshot: &snap})
}

// pushSnapshot replaces the stored value, as another device would, and notifies observers.
func (f *fakeStore) pushSnapshot(path string, items cozykost.Items, revision int64) {
	f.seed(path, items, revision)
	f.push(path)
}

func (f *fakeStore) observerCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers[path])
}

func (f *fakeStore) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeIdentity struct {
	mu        sync.Mutex
	userID    string
	ok        bool
	next      int
	listeners map[int]func(string, bool)
}

func newFakeIdentity(userID string) *fakeIdentity {
	return &fakeIdentity{userID: userID, ok: userID != "", listeners: make(map[int]func(string, bool))}
}

func (f *fakeIdentity) CurrentUserID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID, f.ok
}

func (f *fakeIdentity) OnAuthChange(fn func(string, bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeIdentity) set(userID string) {
	f.mu.Lock()
	f.userID = userID
	f.ok = userID != ""
	var fns []func(string, bool)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(userID, userID != "")
	}
}

// --- helpers ---

const user1 = "user1"

var favPath = cozykost.CollectionPath(user1, cozykost.Favorites)

func harmony() cozykost.Item {
	return cozykost.Item{
		ID:        "k1",
		Name:      "Kost Harmony",
		Location:  "Manado",
		Price:     1500000,
		Image:     "http://x/y.png",
		Timestamp: 1000,
	}
}

func melati() cozykost.Item {
	return cozykost.Item{
		ID:        "k2",
		Name:      "Kost Melati",
		Location:  "Tomohon",
		Price:     900000,
		Image:     "http://x/z.png",
		Timestamp: 2000,
	}
}

func setup(t *testing.T) (*Collection, *fakeStore, *fakeIdentity) {
	t.Helper()
	store := newFakeStore()
	identity := newFakeIdentity(user1)
	c := New(store, identity)
	t.Cleanup(c.Close)
	return c, store, identity
}

type recorder struct {
	snapshots chan cozykost.Items
	errs      chan error
	count     atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{
		snapshots: make(chan cozykost.Items, 32),
		errs:      make(chan error, 32),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnSnapshot: func(items cozykost.Items) {
			r.count.Add(1)
			r.snapshots <- items
		},
		OnError: func(err error) {
			r.errs <- err
		},
	}
}

func (r *recorder) nextSnapshot(t *testing.T) cozykost.Items {
	t.Helper()
	select {
	case items := <-r.snapshots:
		return items
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func (r *recorder) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func waitReadEntered(t *testing.T, store *fakeStore) {
	t.Helper()
	select {
	case <-store.readEntered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote read")
	}
}

func waitEntered(t *testing.T, store *fakeStore) string {
	t.Helper()
	select {
	case path := <-store.entered:
		return path
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote write")
		return ""
	}
}

// --- tests ---

func TestAddThenLoad(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, user1, cozykost.Favorites, harmony()))

	items, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)
	assert.Equal(t, cozykost.Items{"k1": harmony()}, items)
}

func TestLoadEmptyCollection(t *testing.T) {
	c, _, _ := setup(t)

	items, err := c.Load(context.Background(), user1, cozykost.Saved)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestToggleAddsThenRemoves(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	added, err := c.Toggle(ctx, user1, cozykost.Favorites, harmony())
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.Toggle(ctx, user1, cozykost.Favorites, harmony())
	require.NoError(t, err)
	assert.False(t, added)

	items, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)
	assert.NotContains(t, items, "k1")
}

func TestToggleTwiceRestoresMembership(t *testing.T) {
	for _, present := range []bool{true, false} {
		t.Run(fmt.Sprintf("present=%v", present), func(t *testing.T) {
			c, store, _ := setup(t)
			ctx := context.Background()

			if present {
				store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)
			}
			before, err := c.Load(ctx, user1, cozykost.Favorites)
			require.NoError(t, err)

			first, err := c.Toggle(ctx, user1, cozykost.Favorites, harmony())
			require.NoError(t, err)
			second, err := c.Toggle(ctx, user1, cozykost.Favorites, harmony())
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			after, err := c.Load(ctx, user1, cozykost.Favorites)
			require.NoError(t, err)
			_, was := before["k1"]
			_, is := after["k1"]
			assert.Equal(t, was, is)
		})
	}
}

func TestRemoveAbsentLeavesCollectionUnchanged(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)

	before, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, user1, cozykost.Favorites, "missing"))

	after, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddRollsBackOnWriteFailure(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)
	_, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)

	before := c.Local(user1, cozykost.Favorites)
	store.writeErr = fmt.Errorf("%w: permission denied", cozykost.ErrRejected)

	err = c.Add(ctx, user1, cozykost.Favorites, melati())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, cozykost.ErrRejected)

	assert.Equal(t, before, c.Local(user1, cozykost.Favorites))
}

func TestRemoveRollsBackOnWriteFailure(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony(), "k2": melati()}, 1)
	_, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)

	before := c.Local(user1, cozykost.Favorites)
	store.writeErr = errors.New("timeout")

	err = c.Remove(ctx, user1, cozykost.Favorites, "k1")
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, before, c.Local(user1, cozykost.Favorites))

	added, err := c.Toggle(ctx, user1, cozykost.Favorites, harmony())
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.False(t, added)
	assert.Equal(t, before, c.Local(user1, cozykost.Favorites))
}

func TestOptimisticMutationVisibleBeforeAck(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.gate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Add(ctx, user1, cozykost.Favorites, harmony())
	}()

	waitEntered(t, store)
	assert.Contains(t, c.Local(user1, cozykost.Favorites), "k1")

	store.gate <- struct{}{}
	require.NoError(t, <-errCh)
	assert.Equal(t, cozykost.Items{"k1": harmony()}, c.Local(user1, cozykost.Favorites))
}

func TestWritesReachStoreInCallOrder(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.gate = make(chan struct{})

	errs := make(chan error, 2)
	go func() {
		errs <- c.Add(ctx, user1, cozykost.Favorites, harmony())
	}()
	require.Equal(t, cozykost.ItemPath(user1, cozykost.Favorites, "k1"), waitEntered(t, store))

	go func() {
		errs <- c.Remove(ctx, user1, cozykost.Favorites, "k1")
	}()
	require.Eventually(t, func() bool {
		return len(c.Local(user1, cozykost.Favorites)) == 0
	}, time.Second, 5*time.Millisecond)

	// the remove must not reach the store until the add settled
	select {
	case path := <-store.entered:
		t.Fatalf("unexpected concurrent write %s", path)
	case <-time.After(50 * time.Millisecond):
	}

	store.gate <- struct{}{}
	waitEntered(t, store)
	store.gate <- struct{}{}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, []string{
		cozykost.ItemPath(user1, cozykost.Favorites, "k1"),
		cozykost.ItemPath(user1, cozykost.Favorites, "k1"),
	}, store.writeLog())
	assert.Empty(t, c.Local(user1, cozykost.Favorites))
}

func TestOperationsRequireActiveSession(t *testing.T) {
	c, store, identity := setup(t)
	ctx := context.Background()

	err := c.Add(ctx, "someone-else", cozykost.Favorites, harmony())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	identity.set("")

	_, err = c.Load(ctx, user1, cozykost.Favorites)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	err = c.Remove(ctx, user1, cozykost.Favorites, "k1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.Toggle(ctx, user1, cozykost.Favorites, harmony())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.Subscribe(ctx, user1, cozykost.Favorites, Handler{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	assert.Empty(t, store.writeLog())
}

func TestUnknownCollectionRejected(t *testing.T) {
	c, _, _ := setup(t)
	_, err := c.Load(context.Background(), user1, cozykost.CollectionName("wishlist"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadTransportFailure(t *testing.T) {
	c, store, _ := setup(t)
	store.readErr = fmt.Errorf("%w: connection refused", cozykost.ErrUnavailable)

	_, err := c.Load(context.Background(), user1, cozykost.Favorites)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.ErrorIs(t, err, cozykost.ErrUnavailable)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "load", opErr.Op)
}

func TestSubscribeDeliversCurrentStateThenChanges(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)

	rec := newRecorder()
	sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := rec.nextSnapshot(t)
	assert.Equal(t, cozykost.Items{"k1": harmony()}, first)
	assert.Equal(t, first, c.Local(user1, cozykost.Favorites))

	remote := cozykost.Items{"k2": melati()}
	store.pushSnapshot(favPath, remote, 2)

	second := rec.nextSnapshot(t)
	assert.Equal(t, remote, second)
	assert.Equal(t, remote, c.Local(user1, cozykost.Favorites))
}

func TestSubscribeAbsentCollectionDeliversEmpty(t *testing.T) {
	c, _, _ := setup(t)
	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Saved, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Empty(t, rec.nextSnapshot(t))
}

func TestNoDeliveryAfterUnsubscribe(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()

	rec := newRecorder()
	sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	rec.nextSnapshot(t)

	sub.Unsubscribe()
	<-sub.Done()
	delivered := rec.count.Load()

	store.pushSnapshot(favPath, cozykost.Items{"k1": harmony()}, 5)
	require.NoError(t, c.Add(ctx, user1, cozykost.Favorites, melati()))
	store.push(favPath)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, delivered, rec.count.Load())
	assert.Eventually(t, func() bool {
		return store.observerCount(favPath) == 0
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
}

func TestDoneWaitsForRunningCallback(t *testing.T) {
	c, store, _ := setup(t)

	var calls atomic.Int32
	running := make(chan struct{})
	release := make(chan struct{})
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, Handler{
		OnSnapshot: func(cozykost.Items) {
			if calls.Add(1) == 1 {
				close(running)
				<-release
			}
		},
	})
	require.NoError(t, err)

	<-running
	store.pushSnapshot(favPath, cozykost.Items{"k1": harmony()}, 1)
	sub.Unsubscribe()

	select {
	case <-sub.Done():
		t.Fatal("done closed while a callback was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnsubscribeFromCallback(t *testing.T) {
	c, _, _ := setup(t)

	var sub *Subscription
	ready := make(chan struct{})
	called := make(chan struct{}, 1)
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, Handler{
		OnSnapshot: func(cozykost.Items) {
			<-ready
			sub.Unsubscribe()
			called <- struct{}{}
		},
	})
	require.NoError(t, err)
	close(ready)

	<-called
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish")
	}
}

func TestContextCancellationEndsSubscription(t *testing.T) {
	c, store, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	rec := newRecorder()
	sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	rec.nextSnapshot(t)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.Eventually(t, func() bool {
		return store.observerCount(favPath) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestOlderSnapshotIsDropped(t *testing.T) {
	c, store, _ := setup(t)
	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	newer := cozykost.Items{"k2": melati()}
	store.pushSnapshot(favPath, newer, 5)
	assert.Equal(t, newer, rec.nextSnapshot(t))

	store.pushSnapshot(favPath, cozykost.Items{"k1": harmony()}, 3)
	store.pushSnapshot(favPath, cozykost.Items{}, 6)
	assert.Empty(t, rec.nextSnapshot(t))
	assert.Empty(t, c.Local(user1, cozykost.Favorites))
}

func TestRedeliveredSnapshotIsSkipped(t *testing.T) {
	c, store, _ := setup(t)
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 2)

	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	store.push(favPath)
	store.pushSnapshot(favPath, cozykost.Items{}, 3)

	assert.Empty(t, rec.nextSnapshot(t))
	assert.Equal(t, int32(2), rec.count.Load())
}

func TestErrorEventKeepsSubscription(t *testing.T) {
	c, store, _ := setup(t)
	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	store.send(favPath, cozykost.Event{Type: cozykost.EventTypeError, Path: favPath, Error: "connection reset"})
	err = rec.nextError(t)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Contains(t, err.Error(), "connection reset")

	store.pushSnapshot(favPath, cozykost.Items{"k1": harmony()}, 1)
	assert.Equal(t, cozykost.Items{"k1": harmony()}, rec.nextSnapshot(t))
}

func TestClearingSnapshotBeforeAckKeepsPendingAdd(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)

	rec := newRecorder()
	sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	store.gate = make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Add(ctx, user1, cozykost.Favorites, melati())
	}()
	waitEntered(t, store)

	store.pushSnapshot(favPath, cozykost.Items{}, 2)
	assert.Empty(t, rec.nextSnapshot(t))
	assert.Equal(t, cozykost.Items{"k2": melati()}, c.Local(user1, cozykost.Favorites))

	store.gate <- struct{}{}
	require.NoError(t, <-errCh)

	assert.Equal(t, cozykost.Items{"k2": melati()}, c.Local(user1, cozykost.Favorites))
}

func TestClearingSnapshotAfterAckRemovesAdd(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)

	rec := newRecorder()
	sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	store.gate = make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Add(ctx, user1, cozykost.Favorites, melati())
	}()
	waitEntered(t, store)

	store.gate <- struct{}{}
	require.NoError(t, <-errCh)
	assert.Equal(t, cozykost.Items{"k1": harmony(), "k2": melati()}, c.Local(user1, cozykost.Favorites))

	store.pushSnapshot(favPath, cozykost.Items{}, 5)
	assert.Empty(t, rec.nextSnapshot(t))
	assert.Empty(t, c.Local(user1, cozykost.Favorites))
}

func TestOwnEchoSupersedesPendingWrite(t *testing.T) {
	for _, bareAck := range []bool{false, true} {
		t.Run(fmt.Sprintf("bareAck=%v", bareAck), func(t *testing.T) {
			c, store, _ := setup(t)
			ctx := context.Background()
			store.bareAck = bareAck

			rec := newRecorder()
			sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
			require.NoError(t, err)
			defer sub.Unsubscribe()
			rec.nextSnapshot(t)

			store.gate = make(chan struct{})
			errCh := make(chan error, 1)
			go func() {
				errCh <- c.Add(ctx, user1, cozykost.Favorites, harmony())
			}()
			waitEntered(t, store)

			// another device wrote a newer version of the same listing first
			newer := harmony()
			newer.Price = 1750000
			store.pushSnapshot(favPath, cozykost.Items{"k1": newer}, 4)
			rec.nextSnapshot(t)
			assert.Equal(t, cozykost.Items{"k1": newer}, c.Local(user1, cozykost.Favorites))

			store.gate <- struct{}{}
			require.NoError(t, <-errCh)

			if bareAck {
				// nothing newer than the echo is known
				assert.Equal(t, cozykost.Items{"k1": newer}, c.Local(user1, cozykost.Favorites))
				return
			}
			// the store applied our write last and said so
			assert.Equal(t, cozykost.Items{"k1": harmony()}, c.Local(user1, cozykost.Favorites))
		})
	}
}

func TestStaleLoadAfterConfirmedWrite(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k2": melati()}, 1)
	_, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)

	store.mu.Lock()
	store.readGate = make(chan struct{})
	store.mu.Unlock()

	type loaded struct {
		items cozykost.Items
		err   error
	}
	loadCh := make(chan loaded, 1)
	go func() {
		items, err := c.Load(ctx, user1, cozykost.Favorites)
		loadCh <- loaded{items, err}
	}()
	// the read has captured revision 1
	waitReadEntered(t, store)

	require.NoError(t, c.Add(ctx, user1, cozykost.Favorites, harmony()))

	close(store.readGate)
	res := <-loadCh
	require.NoError(t, res.err)
	assert.Equal(t, cozykost.Items{"k1": harmony(), "k2": melati()}, res.items)
	assert.Equal(t, cozykost.Items{"k1": harmony(), "k2": melati()}, c.Local(user1, cozykost.Favorites))

	added, err := c.Toggle(ctx, user1, cozykost.Favorites, harmony())
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, cozykost.Items{"k2": melati()}, c.Local(user1, cozykost.Favorites))
}

func TestSameRevisionSnapshotAfterConfirmedWrite(t *testing.T) {
	for _, bareAck := range []bool{false, true} {
		t.Run(fmt.Sprintf("bareAck=%v", bareAck), func(t *testing.T) {
			c, store, _ := setup(t)
			ctx := context.Background()
			store.seed(favPath, cozykost.Items{"k2": melati()}, 1)
			_, err := c.Load(ctx, user1, cozykost.Favorites)
			require.NoError(t, err)

			store.bareAck = bareAck
			require.NoError(t, c.Add(ctx, user1, cozykost.Favorites, harmony()))
			want := cozykost.Items{"k1": harmony(), "k2": melati()}

			// a lagging replica still serves the pre-write value at the cached revision
			cached := int64(2)
			if bareAck {
				cached = 1
			}
			store.seed(favPath, cozykost.Items{"k2": melati()}, cached)

			items, err := c.Load(ctx, user1, cozykost.Favorites)
			require.NoError(t, err)
			assert.Equal(t, want, items)

			rec := newRecorder()
			sub, err := c.Subscribe(ctx, user1, cozykost.Favorites, rec.handler())
			require.NoError(t, err)
			defer sub.Unsubscribe()
			assert.Equal(t, want, rec.nextSnapshot(t))
			assert.Equal(t, want, c.Local(user1, cozykost.Favorites))

			// a strictly newer snapshot still replaces the cache
			store.pushSnapshot(favPath, cozykost.Items{}, cached+1)
			assert.Empty(t, rec.nextSnapshot(t))
			assert.Empty(t, c.Local(user1, cozykost.Favorites))
		})
	}
}

func TestItemIDWithSlashRejected(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)
	_, err := c.Load(ctx, user1, cozykost.Favorites)
	require.NoError(t, err)
	before := c.Local(user1, cozykost.Favorites)

	bad := harmony()
	bad.ID = "k1/extra"

	err = c.Add(ctx, user1, cozykost.Favorites, bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	added, err := c.Toggle(ctx, user1, cozykost.Favorites, bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, added)

	err = c.Remove(ctx, user1, cozykost.Favorites, "k1/extra")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, store.writeLog())
	assert.Equal(t, before, c.Local(user1, cozykost.Favorites))
}

func TestLogoutRevokesSubscriptions(t *testing.T) {
	c, store, identity := setup(t)
	store.seed(favPath, cozykost.Items{"k1": harmony()}, 1)

	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), user1, cozykost.Favorites, rec.handler())
	require.NoError(t, err)
	defer sub.Unsubscribe()
	rec.nextSnapshot(t)

	identity.set("")

	assert.ErrorIs(t, rec.nextError(t), ErrNotAuthenticated)
	assert.Empty(t, c.Local(user1, cozykost.Favorites))
	assert.Eventually(t, func() bool {
		return store.observerCount(favPath) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLocalReturnsCopy(t *testing.T) {
	c, _, _ := setup(t)
	require.NoError(t, c.Add(context.Background(), user1, cozykost.Favorites, harmony()))

	local := c.Local(user1, cozykost.Favorites)
	delete(local, "k1")
	assert.Contains(t, c.Local(user1, cozykost.Favorites), "k1")
}
