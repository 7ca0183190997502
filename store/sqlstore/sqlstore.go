// Package sqlstore keeps authstate values in a SQL table through
// github.com/uptrace/bun. Any bun dialect works; Open wires the SQLite one.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// EntryModel is the Bun model for stored values.
type EntryModel struct {
	bun.BaseModel `bun:"table:authstate_kv"`

	Key       string     `bun:"entry_key,pk"`
	Value     string     `bun:"entry_value,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// Store implements authstate.ExpiringStorage.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// New wraps an existing bun database. Call CreateSchema before first use.
func New(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open opens a SQLite database at dsn, creates the table and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database").
			WithMetadata(map[string]any{"dsn": dsn})
	}

	s := New(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := s.CreateSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying bun database.
func (s *Store) DB() *bun.DB {
	return s.db
}

// CreateSchema creates the backing table when it does not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*EntryModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create authstate_kv table")
	}
	return nil
}

// ReadString returns the value held under key. Expired rows read as missing.
func (s *Store) ReadString(ctx context.Context, key string) (string, error) {
	var model EntryModel
	err := s.db.NewSelect().
		Model(&model).
		Where("entry_key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", authstate.NewStorageError(authstate.ErrKeyNotFound, "read", key, nil)
		}
		return "", authstate.NewStorageError(authstate.ErrStorageRead, "read", key, err)
	}

	if model.ExpiresAt != nil && !s.now().Before(*model.ExpiresAt) {
		return "", authstate.NewStorageError(authstate.ErrKeyNotFound, "read", key, nil)
	}

	return model.Value, nil
}

// WriteString stores value under key without expiry.
func (s *Store) WriteString(ctx context.Context, key, value string) error {
	return s.WriteStringTTL(ctx, key, value, 0)
}

// WriteStringTTL upserts value under key, expiring after ttl when positive.
func (s *Store) WriteStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	now := s.now().UTC()
	model := &EntryModel{
		Key:       key,
		Value:     value,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		model.ExpiresAt = &expiresAt
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (entry_key) DO UPDATE").
		Set("entry_value = EXCLUDED.entry_value").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return authstate.NewStorageError(authstate.ErrStorageWrite, "write", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*EntryModel)(nil)).
		Where("entry_key = ?", key).
		Exec(ctx)
	if err != nil {
		return authstate.NewStorageError(authstate.ErrStorageDelete, "delete", key, err)
	}
	return nil
}

// PurgeExpired removes rows whose expiry has passed and returns how many.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*EntryModel)(nil)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, authstate.NewStorageError(authstate.ErrStorageDelete, "purge", "", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
