// Package kv is the hierarchical key-value layer the repositories persist
// into.  Keys are tuples such as ("habits", accountID, habitID) rendered as
// colon-joined strings.  Two backends exist: Redis (optimistic WATCH/MULTI
// transactions) and MySQL (a single kv table under InnoDB row locks).
package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("kv: key not found")

// Separator joins key segments.
const Separator = ":"

// Key is a hierarchical key.  A key's parent is the key without its last
// segment; listing a prefix returns every key directly or indirectly below it.
type Key []string

// String renders the key as stored by the backends.
func (k Key) String() string { return strings.Join(k, Separator) }

// Parent returns the key without its last segment, or nil for top level keys.
func (k Key) Parent() Key {
	if len(k) < 2 {
		return nil
	}
	return k[:len(k)-1]
}

// Last returns the final segment.
func (k Key) Last() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// Valid reports whether every segment is non-empty and free of the separator.
func (k Key) Valid() bool {
	if len(k) == 0 {
		return false
	}
	for _, s := range k {
		if s == "" || strings.Contains(s, Separator) {
			return false
		}
	}
	return true
}

// ParseKey splits a stored key back into its segments.
func ParseKey(s string) Key { return Key(strings.Split(s, Separator)) }

// Item is a key together with its stored value.
type Item struct {
	Key   Key
	Value []byte
}

// Reader is the read side shared by stores and transactions.
type Reader interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)
	// List returns every item whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix Key) ([]Item, error)
}

// Tx is a unit of work.  Reads observe committed state and become part of
// the transaction's conflict set; writes are buffered and applied together
// at commit, so a read does not see the transaction's own pending writes.
type Tx interface {
	Reader
	Set(key Key, value []byte)
	Delete(key Key)
}

// TxFunc is the body of a transaction.  It may run more than once when the
// backend detects a conflicting concurrent write, so it must not have side
// effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by RedisStore and MySQLStore.
type Store interface {
	Reader
	// Update runs fn and commits its writes atomically: either every write
	// is applied or none is.  An error returned by fn aborts the
	// transaction and is returned unchanged.
	Update(ctx context.Context, fn TxFunc) error
	Close() error
}

// writeOp is a buffered transaction write.
type writeOp struct {
	key    Key
	value  []byte
	delete bool
}

// txBuffer collects writes for backends that apply them at commit.
type txBuffer struct {
	ops []writeOp
}

func (b *txBuffer) Set(key Key, value []byte) {
	b.ops = append(b.ops, writeOp{key: key, value: value})
}

func (b *txBuffer) Delete(key Key) {
	b.ops = append(b.ops, writeOp{key: key, delete: true})
}

type options struct {
	maxRetries uint64
	baseDelay  time.Duration
}

// Option customises a store.
type Option func(*options)

// WithMaxRetries bounds how often a conflicting transaction is re-run.
func WithMaxRetries(n uint64) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithRetryDelay sets the initial backoff between conflicting attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.baseDelay = d }
}

func newOptions(opts []Option) options {
	o := options{maxRetries: 16, baseDelay: 2 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) backoff() retry.Backoff {
	return retry.WithMaxRetries(o.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(o.baseDelay)))
}
