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

// Package replay gives failed records another delivery attempt through a
// dedicated queue, with a bounded attempt count.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/logrunner/internal/logctx"
	"github.com/cardinalhq/logrunner/internal/queue"
	"github.com/cardinalhq/logrunner/internal/shipper"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// DefaultMaxAttempts bounds replay passes per record.
const DefaultMaxAttempts = 3

// Item is one record pulled off the replay queue, still leased. The caller
// deletes the message once the record is delivered or requeued.
type Item struct {
	Message queue.Message
	Record  sources.Record
	// LastError is why the previous attempt failed.
	LastError string
}

type wireRecord struct {
	Record    sources.Record `json:"record"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
}

var (
	requeuedCount metric.Int64Counter
	droppedCount  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logrunner/internal/replay")

	var err error
	requeuedCount, err = meter.Int64Counter(
		"logrunner.replay.requeued.count",
		metric.WithDescription("Records sent to the replay queue"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create requeued.count counter: %w", err))
	}

	droppedCount, err = meter.Int64Counter(
		"logrunner.replay.dropped.count",
		metric.WithDescription("Records dropped after exhausting replay attempts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dropped.count counter: %w", err))
	}
}

// Manager routes failed records into the replay queue and drains it for
// replay passes.
type Manager struct {
	q           queue.Queue
	maxAttempts int
	// replayPermanent sends permanently rejected records back through the
	// queue too, instead of dropping them on first rejection.
	replayPermanent bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts overrides the replay attempt bound.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithReplayPermanent routes permanently rejected records through replay
// rather than dropping them immediately.
func WithReplayPermanent(enabled bool) Option {
	return func(m *Manager) { m.replayPermanent = enabled }
}

func NewManager(q queue.Queue, opts ...Option) *Manager {
	m := &Manager{q: q, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleOutcomes routes every non-delivered outcome: retryable records are
// requeued until their attempts run out, then dropped exactly once with a
// logged reason. Returns how many were requeued and dropped.
//
// The error return is fatal for the pass: if a record cannot be durably
// requeued, the caller must not advance its cursor past it.
func (m *Manager) HandleOutcomes(ctx context.Context, outcomes []shipper.Outcome) (requeued, dropped int, err error) {
	ll := logctx.FromContext(ctx)

	for _, outcome := range outcomes {
		switch outcome.Status {
		case shipper.StatusDelivered:
			continue
		case shipper.StatusPermanent:
			if !m.replayPermanent {
				dropped++
				droppedCount.Add(ctx, 1)
				ll.Error("dropping permanently rejected record",
					"identity", outcome.Record.Identity.Key(),
					"offset", outcome.Record.Start,
					"statusCode", outcome.StatusCode,
					"reason", outcome.Reason)
				continue
			}
		}

		if outcome.Record.Attempts >= m.maxAttempts {
			dropped++
			droppedCount.Add(ctx, 1)
			ll.Error("dropping record after exhausting replay attempts",
				"identity", outcome.Record.Identity.Key(),
				"offset", outcome.Record.Start,
				"attempts", outcome.Record.Attempts,
				"reason", outcome.Reason)
			continue
		}

		if err := m.requeue(ctx, outcome.Record, outcome.Reason); err != nil {
			return requeued, dropped, err
		}
		requeued++
	}
	return requeued, dropped, nil
}

// RequeueAll sends every record of an in-doubt batch to replay, used when
// the whole bulk request failed at the transport level.
func (m *Manager) RequeueAll(ctx context.Context, records []sources.Record, reason string) error {
	for _, rec := range records {
		if rec.Attempts >= m.maxAttempts {
			droppedCount.Add(ctx, 1)
			logctx.FromContext(ctx).Error("dropping record after exhausting replay attempts",
				"identity", rec.Identity.Key(),
				"offset", rec.Start,
				"attempts", rec.Attempts,
				"reason", reason)
			continue
		}
		if err := m.requeue(ctx, rec, reason); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) requeue(ctx context.Context, rec sources.Record, reason string) error {
	next := rec
	next.Attempts = rec.Attempts + 1

	body, err := json.Marshal(wireRecord{Record: next, Attempts: next.Attempts, LastError: reason})
	if err != nil {
		return fmt.Errorf("marshal replay record: %w", err)
	}
	attrs := map[string]string{
		"kind":     "replay",
		"identity": rec.Identity.Key(),
	}
	if err := m.q.Send(ctx, body, attrs); err != nil {
		return fmt.Errorf("enqueue replay record for %s: %w", rec.Identity, err)
	}
	requeuedCount.Add(ctx, 1)
	return nil
}

// Receive leases up to max replay items. Undeleted items redeliver after
// the visibility window.
func (m *Manager) Receive(ctx context.Context, max int, visibility time.Duration) ([]Item, error) {
	msgs, err := m.q.Receive(ctx, max, visibility)
	if err != nil {
		return nil, fmt.Errorf("receive replay records: %w", err)
	}

	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		var w wireRecord
		if err := json.Unmarshal(msg.Body, &w); err != nil {
			return nil, fmt.Errorf("decode replay record %s: %w", msg.ID, err)
		}
		w.Record.Attempts = w.Attempts
		items = append(items, Item{Message: msg, Record: w.Record, LastError: w.LastError})
	}
	return items, nil
}

// Ack deletes a replayed message once its record is settled.
func (m *Manager) Ack(ctx context.Context, item Item) error {
	return m.q.Delete(ctx, item.Message.Receipt)
}
