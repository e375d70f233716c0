package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"endpoint-dispatcher/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey    = "queue:journal"
	recentKey   = "list:recent"
	recentLimit = 50

	gcInterval = 5 * time.Minute
)

// popTimeout bounds each BRPOP so PopQueue notices a cancelled context.
var popTimeout = time.Second

func recordKey(id uuid.UUID) string { return fmt.Sprintf("access:%s", id) }

func hitsKey(route string) string { return "hits:" + route }

// HybridStore keeps record metadata, the queue and hit counters in Redis and
// archived records in Badger.
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB

	gcStop    chan struct{}
	gcDone    sync.WaitGroup
	closeOnce sync.Once
}

// NewHybridStore connects to Redis and opens Badger at badgerPath.
// Pass badgerPath="" for Redis-only client mode (the CLI read commands).
func NewHybridStore(redisAddr string, badgerPath string) (*HybridStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	if badgerPath != "" {
		opts := badger.DefaultOptions(badgerPath)
		opts.Logger = nil
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	s := &HybridStore{rdb: rdb, db: db}
	if db != nil {
		s.startGC(gcInterval)
	}
	return s, nil
}

// startGC launches the value log GC loop. Close stops it and waits for it
// before closing Badger.
func (s *HybridStore) startGC(every time.Duration) {
	stop := make(chan struct{})
	s.gcStop = stop
	s.gcDone.Add(1)
	go func() {
		defer s.gcDone.Done()
		s.runGC(every, stop)
	}()
}

// runGC reclaims Badger value log space until stop is closed.
func (s *HybridStore) runGC(every time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Close cleans up connections. It is safe to call more than once.
func (s *HybridStore) Close() {
	s.closeOnce.Do(func() {
		if s.gcStop != nil {
			close(s.gcStop)
		}
		s.gcDone.Wait()

		if s.rdb != nil {
			s.rdb.Close()
		}
		if s.db != nil {
			s.db.Close()
		}
	})
}

// Save writes metadata to Redis. Pending records are queued for the worker
// and counted against their route; archived records also go to Badger.
func (s *HybridStore) Save(ctx context.Context, rec *model.AccessRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, recordKey(rec.ID), data, 0)

	if rec.State == model.StatePending {
		pipe.LPush(ctx, queueKey, rec.ID.String())
		pipe.LPush(ctx, recentKey, rec.ID.String())
		pipe.LTrim(ctx, recentKey, 0, recentLimit-1)
		pipe.Incr(ctx, hitsKey(rec.Route))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if rec.State == model.StateArchived {
		if s.db == nil {
			return fmt.Errorf("cannot archive record: badgerdb is not initialized")
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(rec.ID.String()), data)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Get reads a record from Redis, falling back to the Badger archive.
func (s *HybridStore) Get(ctx context.Context, id uuid.UUID) (*model.AccessRecord, error) {
	val, err := s.rdb.Get(ctx, recordKey(id)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	if err == redis.Nil {
		if s.db == nil {
			return nil, ErrNotFound
		}
		err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(id.String()))
			if err != nil {
				return err
			}
			val, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	}

	var rec model.AccessRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List fetches the most recent records from Redis
func (s *HybridStore) List(ctx context.Context, limit int) ([]model.AccessRecord, error) {
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}
	ids, err := s.rdb.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	var records []model.AccessRecord
	for _, idStr := range ids {
		val, err := s.rdb.Get(ctx, "access:"+idStr).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}

		var rec model.AccessRecord
		if err := json.Unmarshal(val, &rec); err == nil {
			records = append(records, rec)
		}
	}

	return records, nil
}

// Hits returns how many requests the route with the given prefix has served.
func (s *HybridStore) Hits(ctx context.Context, route string) (int64, error) {
	n, err := s.rdb.Get(ctx, hitsKey(route)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// PopQueue waits for a pending record id (Blocking) until ctx is done.
func (s *HybridStore) PopQueue(ctx context.Context) (uuid.UUID, error) {
	for {
		result, err := s.rdb.BRPop(ctx, popTimeout, queueKey).Result()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return uuid.Nil, ctxErr
		}
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return uuid.Nil, err
		}
		return uuid.Parse(result[1])
	}
}
