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

// Package shipper delivers record batches to the bulk ingestion endpoint
// and classifies each record's outcome for the replay path.
package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/logrunner/internal/batcher"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// Status classifies one record's delivery result.
type Status int

const (
	// StatusDelivered means the endpoint accepted the document, or already
	// had it (version conflict on the deterministic ID).
	StatusDelivered Status = iota
	// StatusRetryable means a transient rejection; the record goes to the
	// replay queue.
	StatusRetryable
	// StatusPermanent means the endpoint will never accept this document.
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRetryable:
		return "retryable"
	case StatusPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome pairs a record with its delivery result.
type Outcome struct {
	Record     sources.Record
	Status     Status
	StatusCode int
	Reason     string
}

// Sink ships batches. The bulk shipper is the production implementation;
// tests substitute fakes.
type Sink interface {
	Ship(ctx context.Context, batch batcher.Batch) ([]Outcome, error)
}

var (
	shippedCount  metric.Int64Counter
	shippedBytes  metric.Int64Counter
	rejectedCount metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logrunner/internal/shipper")

	var err error
	shippedCount, err = meter.Int64Counter(
		"logrunner.shipper.shipped.count",
		metric.WithDescription("Records accepted by the bulk endpoint"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create shipped.count counter: %w", err))
	}

	shippedBytes, err = meter.Int64Counter(
		"logrunner.shipper.shipped.bytes",
		metric.WithDescription("Record body bytes accepted by the bulk endpoint"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create shipped.bytes counter: %w", err))
	}

	rejectedCount, err = meter.Int64Counter(
		"logrunner.shipper.rejected.count",
		metric.WithDescription("Records rejected by the bulk endpoint"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rejected.count counter: %w", err))
	}
}

// Shipper ships batches through a BulkClient.
type Shipper struct {
	client *BulkClient
	now    func() time.Time
}

var _ Sink = (*Shipper)(nil)

// ShipperOption configures a Shipper.
type ShipperOption func(*Shipper)

// WithShipperClock substitutes the timestamp source, for tests.
func WithShipperClock(now func() time.Time) ShipperOption {
	return func(s *Shipper) { s.now = now }
}

func New(client *BulkClient, opts ...ShipperOption) *Shipper {
	s := &Shipper{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ship sends the batch and classifies every record. The returned slice is
// ordered like the batch. A transport-level error after retries means no
// per-record result exists and the whole batch is in doubt.
func (s *Shipper) Ship(ctx context.Context, batch batcher.Batch) ([]Outcome, error) {
	if len(batch.Records) == 0 {
		return nil, nil
	}

	payload, err := s.buildPayload(batch)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Bulk(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(resp.Items) != len(batch.Records) {
		return nil, fmt.Errorf("bulk response has %d items for %d records", len(resp.Items), len(batch.Records))
	}

	outcomes := make([]Outcome, 0, len(batch.Records))
	for i, rec := range batch.Records {
		item := resp.Items[i].Create
		outcome := Outcome{Record: rec, StatusCode: item.Status, Status: classify(item.Status)}
		if item.Error != nil {
			outcome.Reason = item.Error.Type + ": " + item.Error.Reason
		}
		switch outcome.Status {
		case StatusDelivered:
			shippedCount.Add(ctx, 1)
			shippedBytes.Add(ctx, int64(len(rec.Body)))
		default:
			rejectedCount.Add(ctx, 1)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// classify maps a per-item status to an outcome class. A conflict means the
// deterministic ID already exists, which is success for at-least-once
// delivery.
func classify(status int) Status {
	switch {
	case status >= 200 && status < 300:
		return StatusDelivered
	case status == http.StatusConflict:
		return StatusDelivered
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable,
		status == http.StatusInsufficientStorage:
		return StatusRetryable
	default:
		return StatusPermanent
	}
}

func (s *Shipper) buildPayload(batch batcher.Batch) ([]byte, error) {
	var buf bytes.Buffer
	ts := s.now().UTC().Format(time.RFC3339Nano)

	for _, rec := range batch.Records {
		action := map[string]any{
			"create": map[string]any{
				"_index": IndexFor(rec),
				"_id":    DocumentID(rec),
			},
		}
		doc := buildDocument(rec, ts)

		actionLine, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("marshal bulk action: %w", err)
		}
		docLine, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal bulk document: %w", err)
		}

		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// buildDocument wraps the raw record body in the shipped envelope. Provider
// fields ride alongside; they never override the envelope keys.
func buildDocument(rec sources.Record, ts string) map[string]any {
	dataset := DiscoverDataset(rec)
	namespace := rec.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	tags := append([]string{"forwarded", strings.ReplaceAll(dataset, ".", "-")}, rec.Tags...)

	doc := map[string]any{
		"@timestamp": ts,
		"message":    string(rec.Body),
		"data_stream": map[string]any{
			"type":      "logs",
			"dataset":   dataset,
			"namespace": namespace,
		},
		"log": map[string]any{
			"offset": rec.Start,
			"file":   map[string]any{"path": rec.Path},
		},
		"tags": tags,
	}
	for k, v := range rec.Fields {
		if _, exists := doc[k]; !exists {
			doc[k] = v
		}
	}
	return doc
}
