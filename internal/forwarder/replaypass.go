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

package forwarder

import (
	"context"
	"time"

	"github.com/cardinalhq/logrunner/internal/batcher"
	"github.com/cardinalhq/logrunner/internal/continuation"
	"github.com/cardinalhq/logrunner/internal/logctx"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// ReplayResult summarizes one drain of the replay queue.
type ReplayResult struct {
	Shipped  int
	Requeued int
	Dropped  int
}

// ReplayPass drains leased replay records until the queue is empty or the
// budget runs out. Each message is acknowledged only after its record is
// settled: delivered, requeued for another attempt, or terminally dropped.
// Messages left leased redeliver after their visibility window.
func (f *Forwarder) ReplayPass(ctx context.Context, budget *continuation.Budget, visibility time.Duration) (ReplayResult, error) {
	ll := logctx.FromContext(ctx)
	var result ReplayResult

	for !budget.Exhausted() {
		items, err := f.replayer.Receive(ctx, 10, visibility)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			return result, nil
		}

		records := make([]sources.Record, 0, len(items))
		var size int64
		for _, item := range items {
			records = append(records, item.Record)
			size += int64(len(item.Record.Body))
		}
		batch := batcher.Batch{Records: records, Bytes: size}

		outcomes, err := f.sink.Ship(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			ll.Warn("bulk request failed during replay, requeueing batch",
				"records", len(records), "error", err.Error())
			if rerr := f.replayer.RequeueAll(ctx, records, err.Error()); rerr != nil {
				return result, rerr
			}
			result.Requeued += len(records)
		} else {
			requeued, dropped, rerr := f.replayer.HandleOutcomes(ctx, outcomes)
			if rerr != nil {
				return result, rerr
			}
			result.Requeued += requeued
			result.Dropped += dropped
			result.Shipped += len(records) - requeued - dropped
		}

		for _, item := range items {
			if err := f.replayer.Ack(ctx, item); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}
