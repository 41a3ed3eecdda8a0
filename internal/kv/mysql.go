package kv

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// MySQL error numbers that mean "run the transaction again".
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// MySQLStore implements Store on the kv_items table created by the
// database migrations.  Prefix listings are key range scans; inside a
// transaction they run with FOR UPDATE so InnoDB next-key locks keep other
// writers out of the range until commit.
type MySQLStore struct {
	db *sql.DB
	options
}

// NewMySQLStore wraps an open database handle.  The store owns the handle
// and closes it on Close.
func NewMySQLStore(db *sql.DB, opts ...Option) *MySQLStore {
	return &MySQLStore{db: db, options: newOptions(opts)}
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the committed value at key.
func (s *MySQLStore) Get(ctx context.Context, key Key) ([]byte, error) {
	return mysqlGet(ctx, s.db, key, "")
}

// List returns every committed item below prefix.
func (s *MySQLStore) List(ctx context.Context, prefix Key) ([]Item, error) {
	return mysqlList(ctx, s.db, prefix, "")
}

// Update runs fn inside a SQL transaction.  Deadlocks and lock wait
// timeouts roll back and re-run fn.
func (s *MySQLStore) Update(ctx context.Context, fn TxFunc) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.runTx(ctx, fn)
		if isRetryableMySQL(err) {
			TxConflicts.WithLabelValues("mysql").Inc()
			return retry.RetryableError(err)
		}
		return err
	})
	if isRetryableMySQL(err) {
		return oops.Code("KV_TX_CONFLICT").With("attempts", s.maxRetries+1).Wrap(err)
	}
	return err
}

func (s *MySQLStore) runTx(ctx context.Context, fn TxFunc) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("KV_BEGIN_FAILED").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &mysqlTx{tx: sqlTx}
	if err = fn(ctx, tx); err != nil {
		return err
	}
	for _, op := range tx.ops {
		if op.delete {
			_, err = sqlTx.ExecContext(ctx, "DELETE FROM kv_items WHERE k = ?", op.key.String())
		} else {
			_, err = sqlTx.ExecContext(ctx,
				"INSERT INTO kv_items (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)",
				op.key.String(), op.value)
		}
		if err != nil {
			if isRetryableMySQL(err) {
				return err
			}
			return oops.Code("KV_WRITE_FAILED").With("key", op.key.String()).Wrap(err)
		}
	}
	if err = sqlTx.Commit(); err != nil {
		if isRetryableMySQL(err) {
			return err
		}
		return oops.Code("KV_COMMIT_FAILED").With("writes", len(tx.ops)).Wrap(err)
	}
	if len(tx.ops) > 0 {
		TxCommits.WithLabelValues("mysql").Inc()
	}
	return nil
}

// Close closes the database handle.
func (s *MySQLStore) Close() error { return s.db.Close() }

type mysqlTx struct {
	txBuffer
	tx *sql.Tx
}

func (t *mysqlTx) Get(ctx context.Context, key Key) ([]byte, error) {
	return mysqlGet(ctx, t.tx, key, " FOR UPDATE")
}

func (t *mysqlTx) List(ctx context.Context, prefix Key) ([]Item, error) {
	return mysqlList(ctx, t.tx, prefix, " FOR UPDATE")
}

func mysqlGet(ctx context.Context, q sqlQuerier, key Key, lock string) ([]byte, error) {
	var v []byte
	err := q.QueryRowContext(ctx, "SELECT v FROM kv_items WHERE k = ?"+lock, key.String()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isRetryableMySQL(err) {
			return nil, err
		}
		return nil, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	return v, nil
}

func mysqlList(ctx context.Context, q sqlQuerier, prefix Key, lock string) ([]Item, error) {
	lo, hi := prefixRange(prefix)
	rows, err := q.QueryContext(ctx,
		"SELECT k, v FROM kv_items WHERE k >= ? AND k < ? ORDER BY k"+lock, lo, hi)
	if err != nil {
		if isRetryableMySQL(err) {
			return nil, err
		}
		return nil, oops.Code("KV_SCAN_FAILED").With("prefix", prefix.String()).Wrap(err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, oops.Code("KV_SCAN_FAILED").With("prefix", prefix.String()).Wrap(err)
		}
		items = append(items, Item{Key: ParseKey(k), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("KV_SCAN_FAILED").With("prefix", prefix.String()).Wrap(err)
	}
	return items, nil
}

// prefixRange returns the half-open byte range [prefix+":", prefix+";")
// which holds exactly the keys below prefix.
func prefixRange(prefix Key) (string, string) {
	p := prefix.String()
	return p + Separator, p + string(rune(Separator[0]+1))
}

func isRetryableMySQL(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
}
