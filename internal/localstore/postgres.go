package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
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
    value JSONB NOT NULL,
    PRIMARY KEY (store, collection, key)
);
`

// PostgresDriver persists stores in PostgreSQL.
type PostgresDriver struct {
	db *pgxpool.Pool
}

// NewPostgresDriver prepares the schema and returns a Postgres-backed driver.
func NewPostgresDriver(ctx context.Context, db *pgxpool.Pool) (*PostgresDriver, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("ensure localstore schema: %w", err)
	}
	return &PostgresDriver{db: db}, nil
}

func (d *PostgresDriver) Version(ctx context.Context, store string) (int, error) {
	var version int
	err := d.db.QueryRow(ctx, `SELECT version FROM localstore_stores WHERE name = $1`, store).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (d *PostgresDriver) SetVersion(ctx context.Context, store string, version int) error {
	_, err := d.db.Exec(ctx, `INSERT INTO localstore_stores (name, version) VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET version = EXCLUDED.version`, store, version)
	return err
}

func (d *PostgresDriver) Collections(ctx context.Context, store string) ([]string, error) {
	rows, err := d.db.Query(ctx, `SELECT name FROM localstore_collections WHERE store = $1 ORDER BY name`, store)
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

func (d *PostgresDriver) CreateCollection(ctx context.Context, store, collection string) error {
	_, err := d.db.Exec(ctx, `INSERT INTO localstore_collections (store, name) VALUES ($1, $2)
        ON CONFLICT (store, name) DO NOTHING`, store, collection)
	return err
}

func (d *PostgresDriver) Get(ctx context.Context, store, collection, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRow(ctx, `SELECT value FROM localstore_records WHERE store = $1 AND collection = $2 AND key = $3`,
		store, collection, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *PostgresDriver) GetAll(ctx context.Context, store, collection string) ([]Record, error) {
	rows, err := d.db.Query(ctx, `SELECT key, value FROM localstore_records WHERE store = $1 AND collection = $2 ORDER BY key`,
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

func (d *PostgresDriver) Put(ctx context.Context, store, collection, key string, value []byte) error {
	_, err := d.db.Exec(ctx, `INSERT INTO localstore_records (store, collection, key, value) VALUES ($1, $2, $3, $4)
        ON CONFLICT (store, collection, key) DO UPDATE SET value = EXCLUDED.value`, store, collection, key, string(value))
	return err
}

func (d *PostgresDriver) Delete(ctx context.Context, store, collection, key string) error {
	_, err := d.db.Exec(ctx, `DELETE FROM localstore_records WHERE store = $1 AND collection = $2 AND key = $3`,
		store, collection, key)
	return err
}

func (d *PostgresDriver) Clear(ctx context.Context, store, collection string) error {
	_, err := d.db.Exec(ctx, `DELETE FROM localstore_records WHERE store = $1 AND collection = $2`, store, collection)
	return err
}
