package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/jmoiron/sqlx"
)

const schema = `CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at BIGINT NOT NULL
)`

// SQLStore keeps entries in a sql table, it works on sqlite, libsql and postgres. Expired rows
// are treated as absent and deleted lazily.
type SQLStore struct {
	db   *sqlx.DB
	time chrono.TimeAPI
}

// NewSQLStore creates the cache table if it does not exist.
func NewSQLStore(ctx context.Context, db *sqlx.DB, timeAPI chrono.TimeAPI) (SQLStore, error) {
	assert.NotNil(db)
	assert.NotNil(timeAPI)

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return SQLStore{}, err
	}
	return SQLStore{db: db, time: timeAPI}, nil
}

func (s SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row struct {
		Value     string `db:"value"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := s.db.GetContext(
		ctx, &row,
		s.db.Rebind(`SELECT value, expires_at FROM cache_entries WHERE cache_key = ?`),
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := s.time.Now().UnixMilli()
	if row.ExpiresAt <= now {
		_, err = s.db.ExecContext(
			ctx,
			s.db.Rebind(`DELETE FROM cache_entries WHERE cache_key = ? AND expires_at <= ?`),
			key, now,
		)
		return nil, false, err
	}
	return []byte(row.Value), true, nil
}

func (s SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := s.time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO cache_entries (cache_key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`),
		key, string(value), expiresAt,
	)
	return err
}

func (s SQLStore) Clear(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`DELETE FROM cache_entries WHERE substr(cache_key, 1, ?) = ?`),
		len(prefix), prefix,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
