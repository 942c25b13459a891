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

package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/logrunner/internal/queue"
	"github.com/cardinalhq/logrunner/internal/shipper"
	"github.com/cardinalhq/logrunner/internal/sources"
)

func testOutcome(status shipper.Status, attempts int) shipper.Outcome {
	return shipper.Outcome{
		Record: sources.Record{
			Identity: sources.Identity{Type: sources.TypeObjectStore, ID: "b/k"},
			Start:    42,
			Cursor:   sources.Cursor{Offset: 50},
			Body:     []byte("line"),
			Attempts: attempts,
		},
		Status:     status,
		StatusCode: 429,
		Reason:     "rejected: throttled",
	}
}

func TestManager_RequeuesRetryable(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q)
	ctx := context.Background()

	outcomes := []shipper.Outcome{
		testOutcome(shipper.StatusDelivered, 0),
		testOutcome(shipper.StatusRetryable, 0),
		testOutcome(shipper.StatusDelivered, 0),
	}
	requeued, dropped, err := m.HandleOutcomes(ctx, outcomes)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, q.Len())

	items, err := m.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Record.Attempts)
	assert.Equal(t, "line", string(items[0].Record.Body))
	assert.Equal(t, "rejected: throttled", items[0].LastError)
	assert.Equal(t, int64(50), items[0].Record.Cursor.Offset)
}

func TestManager_DropsAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q, WithMaxAttempts(3))
	ctx := context.Background()

	// A record that already replayed three times fails once more.
	requeued, dropped, err := m.HandleOutcomes(ctx, []shipper.Outcome{testOutcome(shipper.StatusRetryable, 3)})
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 1, dropped, "terminal drop happens exactly once")
	assert.Equal(t, 0, q.Len())
}

func TestManager_AttemptsWalkToTerminalDrop(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q, WithMaxAttempts(2))
	ctx := context.Background()

	totalDrops := 0
	outcome := testOutcome(shipper.StatusRetryable, 0)
	for i := 0; i < 5; i++ {
		requeued, dropped, err := m.HandleOutcomes(ctx, []shipper.Outcome{outcome})
		require.NoError(t, err)
		totalDrops += dropped
		if requeued == 0 {
			break
		}
		items, err := m.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.NoError(t, m.Ack(ctx, items[0]))
		outcome.Record = items[0].Record
	}

	assert.Equal(t, 1, totalDrops, "max_attempts+1 failures produce exactly one drop")
	assert.Equal(t, 0, q.Len())
}

func TestManager_PermanentDroppedByDefault(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q)

	requeued, dropped, err := m.HandleOutcomes(context.Background(), []shipper.Outcome{testOutcome(shipper.StatusPermanent, 0)})
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, q.Len())
}

func TestManager_PermanentReplayedWhenEnabled(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q, WithReplayPermanent(true))

	requeued, dropped, err := m.HandleOutcomes(context.Background(), []shipper.Outcome{testOutcome(shipper.StatusPermanent, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, q.Len())
}

func TestManager_RequeueAllSkipsExhausted(t *testing.T) {
	q := queue.NewMemQueue()
	m := NewManager(q, WithMaxAttempts(2))
	ctx := context.Background()

	records := []sources.Record{
		{Identity: sources.Identity{Type: sources.TypeQueue, ID: "q/1"}, Body: []byte("a"), Attempts: 0},
		{Identity: sources.Identity{Type: sources.TypeQueue, ID: "q/2"}, Body: []byte("b"), Attempts: 2},
	}
	require.NoError(t, m.RequeueAll(ctx, records, "bulk endpoint unreachable"))
	assert.Equal(t, 1, q.Len())
}
