// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// poolIface is the subset of *pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is a Store backed by the plugin_storage table.
type Postgres struct {
	pool poolIface
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects to dsn. Run NewMigrator(dsn).Up first so the table
// exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORAGE_CONNECT_FAILED").Wrapf(err, "connect to plugin storage")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// wrap maps database errors onto storage codes.
func wrap(err error, operation, pluginID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return oops.Code("STORAGE_NOT_MIGRATED").
			With("operation", operation).
			With("plugin", pluginID).
			Wrapf(err, "plugin storage table missing; run migrations")
	}
	return oops.Code("STORAGE_FAILED").
		With("operation", operation).
		With("plugin", pluginID).
		Wrap(err)
}

// Get returns the stored value.
func (p *Postgres) Get(ctx context.Context, pluginID, key string) ([]byte, bool, error) {
	if err := checkKey(pluginID, key); err != nil {
		return nil, false, err
	}
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM plugin_storage WHERE plugin_id = $1 AND key = $2`,
		pluginID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap(err, "get", pluginID)
	}
	return value, true, nil
}

// Set upserts a value.
func (p *Postgres) Set(ctx context.Context, pluginID, key string, value []byte) error {
	if err := checkKey(pluginID, key); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO plugin_storage (plugin_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (plugin_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		pluginID, key, value)
	if err != nil {
		return wrap(err, "set", pluginID)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (p *Postgres) Delete(ctx context.Context, pluginID, key string) error {
	if err := checkKey(pluginID, key); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM plugin_storage WHERE plugin_id = $1 AND key = $2`,
		pluginID, key)
	if err != nil {
		return wrap(err, "delete", pluginID)
	}
	return nil
}

// Keys lists a plugin's keys, sorted.
func (p *Postgres) Keys(ctx context.Context, pluginID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM plugin_storage WHERE plugin_id = $1 ORDER BY key`,
		pluginID)
	if err != nil {
		return nil, wrap(err, "keys", pluginID)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrap(err, "scan key", pluginID)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate keys", pluginID)
	}
	return keys, nil
}
