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
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/logrunner/internal/logctx"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// Tracker enforces the progress lifecycle over a Store. Cursors only move
// forward; a regressed Advance is absorbed, not persisted. Completed
// identities are remembered in a TTL cache so duplicate deliveries skip the
// store round trip.
type Tracker struct {
	store     Store
	completed *ttlcache.Cache[string, struct{}]
}

// TrackerOption configures a Tracker.
type TrackerOption func(*trackerConfig)

type trackerConfig struct {
	completedTTL time.Duration
}

// WithCompletedTTL sets how long completed identities stay in the fast-path
// cache. Default is one hour.
func WithCompletedTTL(ttl time.Duration) TrackerOption {
	return func(c *trackerConfig) { c.completedTTL = ttl }
}

func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	cfg := trackerConfig{completedTTL: time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](cfg.completedTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &Tracker{store: store, completed: cache}
}

// ResolveStart decides where a delivery should begin. Completed identities
// report StateComplete so the caller can absorb the duplicate; in-progress
// ones resume at the stored cursor; unseen ones start at zero.
func (t *Tracker) ResolveStart(ctx context.Context, id sources.Identity) (sources.Cursor, State, error) {
	if t.completed.Has(id.Key()) {
		return sources.Cursor{}, StateComplete, nil
	}

	entry, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return sources.Cursor{}, StateUnseen, err
	}
	if !ok {
		return sources.Cursor{}, StateUnseen, nil
	}

	switch entry.State {
	case StateComplete:
		t.completed.Set(id.Key(), struct{}{}, ttlcache.DefaultTTL)
		return entry.Cursor, StateComplete, nil
	case StateInProgress:
		return entry.Cursor, StateInProgress, nil
	default:
		return sources.Cursor{}, StateUnseen, nil
	}
}

// Advance persists forward progress. A cursor at or behind the stored one
// is dropped silently, which makes concurrent duplicate passes safe.
func (t *Tracker) Advance(ctx context.Context, id sources.Identity, cursor sources.Cursor) error {
	entry, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if ok && cursor.Compare(entry.Cursor) <= 0 {
		logctx.FromContext(ctx).Debug("dropping non-advancing cursor",
			"identity", id.Key(),
			"storedUnit", entry.Cursor.Unit,
			"storedOffset", entry.Cursor.Offset)
		return nil
	}
	if ok && entry.State == StateComplete {
		return fmt.Errorf("advance on completed identity %s", id)
	}

	return t.store.Put(ctx, Entry{
		Identity:  id,
		State:     StateInProgress,
		Cursor:    cursor,
		UpdatedAt: time.Now(),
	})
}

// Complete marks the identity fully delivered at the given cursor.
func (t *Tracker) Complete(ctx context.Context, id sources.Identity, cursor sources.Cursor) error {
	err := t.store.Put(ctx, Entry{
		Identity:  id,
		State:     StateComplete,
		Cursor:    cursor,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	t.completed.Set(id.Key(), struct{}{}, ttlcache.DefaultTTL)
	return nil
}

// Forget removes all trace of an identity. Used by tests and retention
// cleanup.
func (t *Tracker) Forget(ctx context.Context, id sources.Identity) error {
	t.completed.Delete(id.Key())
	return t.store.Delete(ctx, id)
}

// Stop halts the background cache eviction loop.
func (t *Tracker) Stop() { t.completed.Stop() }
