package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	// versionNamespace prefixes the per-prefix version counters.  Every
	// write bumps the counter of the written key's parent, and List watches
	// the counter of the listed prefix, which turns a prefix scan into part
	// of the optimistic transaction's conflict set.
	versionNamespace = "ver"
	// versionTTL only has to outlive in-flight transactions.
	versionTTL = time.Hour

	scanCount = 200
	mgetBatch = 200
)

// redisReader is the subset of commands shared by *redis.Client and *redis.Tx.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// RedisStore implements Store on a single Redis instance.
type RedisStore struct {
	rdb *redis.Client
	options
}

// NewRedisStore wraps an existing client.  The store owns the client and
// closes it on Close.
func NewRedisStore(rdb *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{rdb: rdb, options: newOptions(opts)}
}

// Get returns the committed value at key.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	return redisGet(ctx, s.rdb, key)
}

// List returns every committed item below prefix.
func (s *RedisStore) List(ctx context.Context, prefix Key) ([]Item, error) {
	return redisList(ctx, s.rdb, prefix)
}

// Update runs fn under WATCH and commits its writes with MULTI/EXEC.  When
// EXEC aborts because a watched key changed, fn is run again from scratch.
func (s *RedisStore) Update(ctx context.Context, fn TxFunc) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{rtx: rtx}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.commit(ctx)
		})
		if errors.Is(err, redis.TxFailedErr) {
			TxConflicts.WithLabelValues("redis").Inc()
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return oops.Code("KV_TX_CONFLICT").With("attempts", s.maxRetries+1).Wrap(err)
	}
	return err
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

type redisTx struct {
	txBuffer
	rtx *redis.Tx
}

func (t *redisTx) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := t.rtx.Watch(ctx, key.String()).Err(); err != nil {
		return nil, oops.Code("KV_WATCH_FAILED").With("key", key.String()).Wrap(err)
	}
	return redisGet(ctx, t.rtx, key)
}

func (t *redisTx) List(ctx context.Context, prefix Key) ([]Item, error) {
	if err := t.rtx.Watch(ctx, versionKey(prefix)).Err(); err != nil {
		return nil, oops.Code("KV_WATCH_FAILED").With("prefix", prefix.String()).Wrap(err)
	}
	return redisList(ctx, t.rtx, prefix)
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.ops) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		bumped := make(map[string]bool)
		for _, op := range t.ops {
			k := op.key.String()
			if op.delete {
				pipe.Del(ctx, k)
			} else {
				pipe.Set(ctx, k, op.value, 0)
			}
			for parent := op.key.Parent(); parent != nil; parent = parent.Parent() {
				vk := versionKey(parent)
				if bumped[vk] {
					continue
				}
				bumped[vk] = true
				pipe.Incr(ctx, vk)
				pipe.Expire(ctx, vk, versionTTL)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return oops.Code("KV_COMMIT_FAILED").With("writes", len(t.ops)).Wrap(err)
	}
	TxCommits.WithLabelValues("redis").Inc()
	return nil
}

func redisGet(ctx context.Context, r redisReader, key Key) ([]byte, error) {
	b, err := r.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	return b, nil
}

func redisList(ctx context.Context, r redisReader, prefix Key) ([]Item, error) {
	match := escapeGlob(prefix.String()+Separator) + "*"
	var keys []string
	var cursor uint64
	for {
		page, next, err := r.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, oops.Code("KV_SCAN_FAILED").With("prefix", prefix.String()).Wrap(err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	keys = dedupSorted(keys)

	items := make([]Item, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatch {
		end := min(start+mgetBatch, len(keys))
		vals, err := r.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, oops.Code("KV_MGET_FAILED").With("prefix", prefix.String()).Wrap(err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			items = append(items, Item{Key: ParseKey(keys[start+i]), Value: []byte(s)})
		}
	}
	return items, nil
}

func versionKey(prefix Key) string {
	return versionNamespace + Separator + prefix.String()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dedupSorted(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if len(out) > 0 && out[len(out)-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}
