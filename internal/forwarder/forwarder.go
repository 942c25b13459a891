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

// Package forwarder drives one source through decode, batch, ship, and
// replay routing, stopping cleanly when the pass budget runs out.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/logrunner/internal/batcher"
	"github.com/cardinalhq/logrunner/internal/continuation"
	"github.com/cardinalhq/logrunner/internal/decoder"
	"github.com/cardinalhq/logrunner/internal/logctx"
	"github.com/cardinalhq/logrunner/internal/offsets"
	"github.com/cardinalhq/logrunner/internal/replay"
	"github.com/cardinalhq/logrunner/internal/shipper"
	"github.com/cardinalhq/logrunner/internal/sources"
)

var (
	recordCount      metric.Int64Counter
	completedCount   metric.Int64Counter
	continuedCount   metric.Int64Counter
	absorbedCount    metric.Int64Counter
	decodeFaultCount metric.Int64Counter
	unavailableCount metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logrunner/internal/forwarder")

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&recordCount, "logrunner.forwarder.records.count", "Records pulled from sources"},
		{&completedCount, "logrunner.forwarder.sources.completed", "Sources fully processed"},
		{&continuedCount, "logrunner.forwarder.sources.continued", "Sources interrupted by budget exhaustion"},
		{&absorbedCount, "logrunner.forwarder.sources.absorbed", "Duplicate deliveries absorbed"},
		{&decodeFaultCount, "logrunner.forwarder.decode.faults", "Sources truncated by malformed input"},
		{&unavailableCount, "logrunner.forwarder.sources.unavailable", "Sources whose backing data was gone"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			panic(fmt.Errorf("failed to create %s counter: %w", c.name, err))
		}
		*c.target = counter
	}
}

// Disposition says how a pass left a source.
type Disposition string

const (
	// DispositionCompleted means every record was shipped or routed to
	// replay and the identity is marked complete.
	DispositionCompleted Disposition = "completed"
	// DispositionContinued means the budget ran out and continuation state
	// was enqueued for a later pass.
	DispositionContinued Disposition = "continued"
	// DispositionAbsorbed means the identity was already complete; a
	// duplicate delivery did nothing.
	DispositionAbsorbed Disposition = "absorbed"
	// DispositionUnavailable means the backing data no longer exists. The
	// identity is marked complete so redeliveries stop.
	DispositionUnavailable Disposition = "unavailable"
)

// Result summarizes one source pass.
type Result struct {
	Identity    sources.Identity
	Disposition Disposition
	Shipped     int
	Requeued    int
	Dropped     int
	// DecodeFault is set when malformed input cut the source short.
	DecodeFault bool
}

// Forwarder wires the pipeline stages together.
type Forwarder struct {
	tracker  *offsets.Tracker
	sink     shipper.Sink
	replayer *replay.Manager
	enqueuer *continuation.Enqueuer

	batchOpts []batcher.Option
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithBatchOptions forwards limits to each per-source batcher.
func WithBatchOptions(opts ...batcher.Option) Option {
	return func(f *Forwarder) { f.batchOpts = opts }
}

func New(tracker *offsets.Tracker, sink shipper.Sink, replayer *replay.Manager, enqueuer *continuation.Enqueuer, opts ...Option) *Forwarder {
	f := &Forwarder{
		tracker:  tracker,
		sink:     sink,
		replayer: replayer,
		enqueuer: enqueuer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Process runs one source until it drains or the budget runs out.
//
// The cursor only advances once every record behind it is either accepted
// by the endpoint or durably sitting in the replay queue. An error return
// is fatal for the pass: the caller must leave the triggering message
// leased so it redelivers.
func (f *Forwarder) Process(ctx context.Context, src sources.Source, budget *continuation.Budget, originalMessageID string) (Result, error) {
	id := src.Identity()
	ctx = logctx.With(ctx, "identity", id.Key())
	ll := logctx.FromContext(ctx)

	result := Result{Identity: id}

	start, state, err := f.tracker.ResolveStart(ctx, id)
	if err != nil {
		return result, &continuation.PersistError{Err: err}
	}
	if state == offsets.StateComplete {
		ll.Debug("absorbing duplicate delivery")
		absorbedCount.Add(ctx, 1)
		result.Disposition = DispositionAbsorbed
		return result, nil
	}
	if state == offsets.StateInProgress {
		ll.Info("resuming interrupted source",
			"unit", start.Unit, "offset", start.Offset)
	}

	it, err := src.Open(ctx, start)
	if err != nil {
		if errors.Is(err, sources.ErrSourceUnavailable) {
			ll.Warn("source data no longer available", "error", err.Error())
			unavailableCount.Add(ctx, 1)
			if cerr := f.tracker.Complete(ctx, id, start); cerr != nil {
				return result, &continuation.PersistError{Err: cerr}
			}
			result.Disposition = DispositionUnavailable
			return result, nil
		}
		var derr *decoder.DecodeError
		if errors.As(err, &derr) {
			// Unreadable from the first byte. Retrying cannot help, so
			// mark it complete to stop the redelivery loop.
			ll.Error("source is unreadable", "offset", derr.Offset, "error", derr.Err.Error())
			decodeFaultCount.Add(ctx, 1)
			if cerr := f.tracker.Complete(ctx, id, start); cerr != nil {
				return result, &continuation.PersistError{Err: cerr}
			}
			result.DecodeFault = true
			result.Disposition = DispositionCompleted
			return result, nil
		}
		return result, err
	}
	defer func() { _ = it.Close() }()

	b := batcher.New(f.batchOpts...)
	cursor := start

	for {
		if budget.Exhausted() {
			return f.interrupt(ctx, src, b, &result, cursor, originalMessageID)
		}

		rec, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var derr *decoder.DecodeError
			if errors.As(err, &derr) {
				// Ship what decoded cleanly; the rest of this source
				// is unreadable and will not improve on retry.
				ll.Error("malformed input, shipping records decoded so far",
					"offset", derr.Offset, "error", derr.Err.Error())
				decodeFaultCount.Add(ctx, 1)
				result.DecodeFault = true
				break
			}
			return result, err
		}

		recordCount.Add(ctx, 1)
		if batch, ok := b.Add(rec); ok {
			if cursor, err = f.shipAndRoute(ctx, id, batch, &result); err != nil {
				return result, err
			}
		}
	}

	if batch, ok := b.Flush(); ok {
		if cursor, err = f.shipAndRoute(ctx, id, batch, &result); err != nil {
			return result, err
		}
	}

	if err := f.tracker.Complete(ctx, id, cursor); err != nil {
		return result, &continuation.PersistError{Err: err}
	}
	completedCount.Add(ctx, 1)
	result.Disposition = DispositionCompleted
	return result, nil
}

// interrupt flushes pending work and persists continuation state so a later
// pass picks up where this one stopped.
func (f *Forwarder) interrupt(ctx context.Context, src sources.Source, b *batcher.Batcher, result *Result, cursor sources.Cursor, originalMessageID string) (Result, error) {
	id := src.Identity()

	if batch, ok := b.Flush(); ok {
		var err error
		if cursor, err = f.shipAndRoute(ctx, id, batch, result); err != nil {
			return *result, err
		}
	}

	err := f.enqueuer.Enqueue(ctx, continuation.State{
		Envelope:          src.Envelope(),
		Cursor:            cursor,
		OriginalMessageID: originalMessageID,
	})
	if err != nil {
		return *result, err
	}

	logctx.FromContext(ctx).Info("budget exhausted, continuation enqueued",
		"unit", cursor.Unit, "offset", cursor.Offset)
	continuedCount.Add(ctx, 1)
	result.Disposition = DispositionContinued
	return *result, nil
}

// shipAndRoute ships one batch, sends failures to replay, and only then
// advances the cursor to the batch end. Returns the new cursor.
func (f *Forwarder) shipAndRoute(ctx context.Context, id sources.Identity, batch batcher.Batch, result *Result) (sources.Cursor, error) {
	end := batch.End()

	outcomes, err := f.sink.Ship(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return end, ctx.Err()
		}
		// The whole request failed after retries; every record is in
		// doubt and rides the replay queue.
		logctx.FromContext(ctx).Warn("bulk request failed, requeueing batch",
			"records", len(batch.Records), "error", err.Error())
		if rerr := f.replayer.RequeueAll(ctx, batch.Records, err.Error()); rerr != nil {
			return end, rerr
		}
		result.Requeued += len(batch.Records)
	} else {
		requeued, dropped, rerr := f.replayer.HandleOutcomes(ctx, outcomes)
		if rerr != nil {
			return end, rerr
		}
		result.Requeued += requeued
		result.Dropped += dropped
		result.Shipped += len(batch.Records) - requeued - dropped
	}

	if err := f.tracker.Advance(ctx, id, end); err != nil {
		return end, &continuation.PersistError{Err: err}
	}
	return end, nil
}
