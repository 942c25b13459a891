// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package offsets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/logrunner/internal/sources"
)

// PGStore persists progress in Postgres. One row per identity; upserts keep
// the row current without read-modify-write races across workers.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS source_offsets (
	identity    TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	unit        BIGINT NOT NULL DEFAULT 0,
	byte_offset BIGINT NOT NULL DEFAULT 0,
	token       TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPGStore connects to the given DSN and ensures the schema exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect offset store: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure offset schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Get(ctx context.Context, id sources.Identity) (Entry, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT state, unit, byte_offset, token, updated_at
		 FROM source_offsets WHERE identity = $1`, id.Key())

	entry := Entry{Identity: id}
	var state string
	err := row.Scan(&state, &entry.Cursor.Unit, &entry.Cursor.Offset, &entry.Cursor.Token, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get offset for %s: %w", id, err)
	}
	entry.State = State(state)
	return entry, true, nil
}

func (s *PGStore) Put(ctx context.Context, entry Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_offsets (identity, state, unit, byte_offset, token, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (identity) DO UPDATE SET
			state = EXCLUDED.state,
			unit = EXCLUDED.unit,
			byte_offset = EXCLUDED.byte_offset,
			token = EXCLUDED.token,
			updated_at = now()`,
		entry.Identity.Key(), string(entry.State),
		entry.Cursor.Unit, entry.Cursor.Offset, entry.Cursor.Token)
	if err != nil {
		return fmt.Errorf("put offset for %s: %w", entry.Identity, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id sources.Identity) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM source_offsets WHERE identity = $1`, id.Key()); err != nil {
		return fmt.Errorf("delete offset for %s: %w", id, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }
