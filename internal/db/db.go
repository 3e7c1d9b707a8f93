package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - kv table
const currentSchemaVersion = 1

// DB is an ordered key-value store backed by SQLite.
type DB struct {
	db   *sql.DB
	path string
}

// Open creates or opens a database at the given path or SQLite DSN.
// Applies required pragmas and the schema. Safe to call repeatedly on the
// same path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the path or DSN the database was opened with.
func (d *DB) Path() string {
	return d.path
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations records the schema version and refuses databases written by
// a newer layout.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *DB) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := d.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Get returns the value stored under key. found is false when the key is
// absent.
func (d *DB) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	err = d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get key: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// GetMany returns the values for keys in order. Missing keys yield nil
// entries.
func (d *DB) GetMany(ctx context.Context, keys [][]byte) ([][]byte, error) {
	values := make([][]byte, len(keys))
	for i, key := range keys {
		v, found, err := d.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			values[i] = v
		}
	}
	return values, nil
}

// Put stores a single key outside of a batch.
func (d *DB) Put(ctx context.Context, key, value []byte) error {
	b := NewBatch()
	b.Put(key, value)
	return d.Commit(ctx, b)
}

// Delete removes a single key outside of a batch.
func (d *DB) Delete(ctx context.Context, key []byte) error {
	b := NewBatch()
	b.Delete(key)
	return d.Commit(ctx, b)
}

// Commit applies every operation of the batch atomically.
func (d *DB) Commit(ctx context.Context, b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	put, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("prepare put: %w", err)
	}
	defer put.Close()

	del, err := tx.PrepareContext(ctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()

	for _, op := range b.Ops() {
		if op.Delete {
			if _, err := del.ExecContext(ctx, op.Key); err != nil {
				return fmt.Errorf("delete key: %w", err)
			}
			continue
		}
		value := op.Value
		if value == nil {
			value = []byte{}
		}
		if _, err := put.ExecContext(ctx, op.Key, value); err != nil {
			return fmt.Errorf("put key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CountKeysAtPrefix counts keys starting with prefix.
func (d *DB) CountKeysAtPrefix(ctx context.Context, prefix []byte) (uint64, error) {
	where, args := prefixRange(prefix)
	var count uint64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return count, nil
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (d *DB) DeletePrefix(ctx context.Context, prefix []byte) (int64, error) {
	where, args := prefixRange(prefix)
	res, err := d.db.ExecContext(ctx, `DELETE FROM kv`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete prefix: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete prefix: %w", err)
	}
	return n, nil
}

// Clear removes every key.
func (d *DB) Clear(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func prefixRange(prefix []byte) (string, []any) {
	if len(prefix) == 0 {
		return "", nil
	}
	upper := IncrementBytes(prefix)
	if upper == nil {
		return ` WHERE key >= ?`, []any{prefix}
	}
	return ` WHERE key >= ? AND key < ?`, []any{prefix, upper}
}
