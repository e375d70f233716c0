package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"endpoint-dispatcher/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore wires a HybridStore to miniredis and an in-memory Badger.
func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis, *badger.DB) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)

	// Built directly to skip the on-disk Badger NewHybridStore would open.
	st := &HybridStore{
		rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		db:  db,
	}
	t.Cleanup(st.Close)
	return st, mr, db
}

func TestHybridStore_SavePending(t *testing.T) {
	st, mr, db := newTestStore(t)
	ctx := context.Background()

	rec := model.NewAccessRecord("GET", "/json-echo/hi", "/json-echo/", 200)
	require.NoError(t, st.Save(ctx, &rec))

	queue, err := mr.List(queueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID.String()}, queue)

	val, err := mr.Get("access:" + rec.ID.String())
	require.NoError(t, err)
	var saved model.AccessRecord
	require.NoError(t, json.Unmarshal([]byte(val), &saved))
	assert.Equal(t, "/json-echo/hi", saved.Path)
	assert.Equal(t, model.StatePending, saved.State)

	hits, err := st.Hits(ctx, "/json-echo/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)

	// Pending records stay out of the archive.
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(rec.ID.String()))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestHybridStore_SaveArchived(t *testing.T) {
	st, mr, db := newTestStore(t)
	ctx := context.Background()

	rec := model.NewAccessRecord("GET", "/a.txt", "/", 200)
	now := time.Now()
	rec.State = model.StateArchived
	rec.ArchivedAt = &now
	require.NoError(t, st.Save(ctx, &rec))

	// Archiving doesn't queue or count again.
	assert.False(t, mr.Exists(queueKey))

	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rec.ID.String()))
		if err != nil {
			return err
		}
		val, _ := item.ValueCopy(nil)
		var archived model.AccessRecord
		require.NoError(t, json.Unmarshal(val, &archived))
		assert.Equal(t, model.StateArchived, archived.State)
		return nil
	})
	assert.NoError(t, err)

	// Redis losing the hot copy still leaves the archived one.
	mr.Del("access:" + rec.ID.String())
	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", got.Path)
}

func TestHybridStore_GetMissing(t *testing.T) {
	st, _, _ := newTestStore(t)

	_, err := st.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHybridStore_ListAndPop(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	first := model.NewAccessRecord("GET", "/one", "/", 200)
	second := model.NewAccessRecord("PUT", "/json-echo/", "/json-echo/", 405)
	require.NoError(t, st.Save(ctx, &first))
	require.NoError(t, st.Save(ctx, &second))

	recent, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID, "newest first")
	assert.Equal(t, first.ID, recent[1].ID)

	id, err := st.PopQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id, "queue is FIFO")
}

func TestHybridStore_ClientMode_NoBadger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybridStore(mr.Addr(), "")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	rec := model.NewAccessRecord("GET", "/", "/", 404)
	assert.NoError(t, st.Save(ctx, &rec), "pending records only need redis")

	rec.State = model.StateArchived
	err = st.Save(ctx, &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badgerdb is not initialized")
}

func TestNewHybridStore_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewHybridStore(addr, "")
	assert.Error(t, err)
}

func TestHybridStore_GCLoopStopsOnClose(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)

	st := &HybridStore{db: db}
	st.startGC(time.Microsecond)
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		st.Close()
		st.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, db.IsClosed())
}

func TestHybridStore_CloseTwice(t *testing.T) {
	st, _, db := newTestStore(t)

	st.Close()
	assert.NotPanics(t, st.Close)
	assert.True(t, db.IsClosed())
}

func TestHybridStore_ListClampsLimit(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < recentLimit+10; i++ {
		rec := model.NewAccessRecord("GET", "/", "/", 200)
		require.NoError(t, st.Save(ctx, &rec))
	}

	recent, err := st.List(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, recentLimit)

	recent, err = st.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, recentLimit)
}

func TestHybridStore_PopQueueReturnsOnCancel(t *testing.T) {
	st, _, _ := newTestStore(t)

	saved := popTimeout
	popTimeout = 50 * time.Millisecond
	defer func() { popTimeout = saved }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := st.PopQueue(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("PopQueue did not return after cancel")
	}
}
