package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS localstore_stores (
    name TEXT PRIMARY KEY,
    version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS localstore_collections (
    store TEXT NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (store, name)
);
CREATE TABLE IF NOT EXISTS localstore_records (
    store TEXT NOT NULL,
    collection TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (store, collection, key)
);
`

// SQLiteDriver persists stores in a SQLite database file.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver prepares the schema on db and returns the driver.
func NewSQLiteDriver(ctx context.Context, db *sql.DB) (*SQLiteDriver, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db is required")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("ensure localstore schema: %w", err)
	}
	return &SQLiteDriver{db: db}, nil
}

func (d *SQLiteDriver) Version(ctx context.Context, store string) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx, `SELECT version FROM localstore_stores WHERE name = ?`, store).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (d *SQLiteDriver) SetVersion(ctx context.Context, store string, version int) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO localstore_stores (name, version) VALUES (?, ?)
        ON CONFLICT (name) DO UPDATE SET version = excluded.version`, store, version)
	return err
}

func (d *SQLiteDriver) Collections(ctx context.Context, store string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM localstore_collections WHERE store = ? ORDER BY name`, store)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *SQLiteDriver) CreateCollection(ctx context.Context, store, collection string) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO localstore_collections (store, name) VALUES (?, ?)
        ON CONFLICT (store, name) DO NOTHING`, store, collection)
	return err
}

func (d *SQLiteDriver) Get(ctx context.Context, store, collection, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM localstore_records WHERE store = ? AND collection = ? AND key = ?`,
		store, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *SQLiteDriver) GetAll(ctx context.Context, store, collection string) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM localstore_records WHERE store = ? AND collection = ? ORDER BY key`,
		store, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		var value []byte
		if err := rows.Scan(&rec.Key, &value); err != nil {
			return nil, err
		}
		rec.Value = value
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *SQLiteDriver) Put(ctx context.Context, store, collection, key string, value []byte) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO localstore_records (store, collection, key, value) VALUES (?, ?, ?, ?)
        ON CONFLICT (store, collection, key) DO UPDATE SET value = excluded.value`, store, collection, key, value)
	return err
}

func (d *SQLiteDriver) Delete(ctx context.Context, store, collection, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM localstore_records WHERE store = ? AND collection = ? AND key = ?`,
		store, collection, key)
	return err
}

func (d *SQLiteDriver) Clear(ctx context.Context, store, collection string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM localstore_records WHERE store = ? AND collection = ?`, store, collection)
	return err
}
