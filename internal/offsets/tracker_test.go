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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/logrunner/internal/sources"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker := NewTracker(NewMemStore())
	t.Cleanup(tracker.Stop)
	return tracker
}

func TestTracker_UnseenStartsAtZero(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}

	cursor, state, err := tracker.ResolveStart(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateUnseen, state)
	assert.True(t, cursor.IsZero())
}

func TestTracker_AdvanceThenResume(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, id, sources.Cursor{Offset: 100}))

	cursor, state, err := tracker.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, state)
	assert.Equal(t, int64(100), cursor.Offset)
}

func TestTracker_CursorNeverRegresses(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, id, sources.Cursor{Offset: 200}))
	require.NoError(t, tracker.Advance(ctx, id, sources.Cursor{Offset: 50}))

	cursor, _, err := tracker.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), cursor.Offset)
}

func TestTracker_UnitOrdersBeforeOffset(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeStream, ID: "s/shard"}
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, id, sources.Cursor{Unit: 1, Offset: 10}))
	// Lower unit with a higher offset is still behind.
	require.NoError(t, tracker.Advance(ctx, id, sources.Cursor{Unit: 0, Offset: 9999}))

	cursor, _, err := tracker.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor.Unit)
	assert.Equal(t, int64(10), cursor.Offset)
}

func TestTracker_CompleteAbsorbsRedelivery(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}
	ctx := context.Background()

	require.NoError(t, tracker.Complete(ctx, id, sources.Cursor{Offset: 500}))

	_, state, err := tracker.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, state)

	// Advancing a completed identity is a bug in the caller.
	assert.Error(t, tracker.Advance(ctx, id, sources.Cursor{Offset: 600}))
}

func TestTracker_CompleteSurvivesCacheMiss(t *testing.T) {
	store := NewMemStore()
	tracker := NewTracker(store)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}
	ctx := context.Background()

	require.NoError(t, tracker.Complete(ctx, id, sources.Cursor{Offset: 500}))
	tracker.Stop()

	// A fresh tracker over the same store sees completion from the row.
	tracker2 := NewTracker(store)
	t.Cleanup(tracker2.Stop)
	_, state, err := tracker2.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, state)
}

func TestTracker_Forget(t *testing.T) {
	tracker := newTestTracker(t)
	id := sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"}
	ctx := context.Background()

	require.NoError(t, tracker.Complete(ctx, id, sources.Cursor{Offset: 5}))
	require.NoError(t, tracker.Forget(ctx, id))

	_, state, err := tracker.ResolveStart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateUnseen, state)
}
