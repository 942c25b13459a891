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

// Package batcher groups records into size-bounded batches for bulk
// shipping.
package batcher

import (
	"github.com/cardinalhq/logrunner/internal/sources"
)

const (
	// DefaultMaxActions bounds the number of records per batch.
	DefaultMaxActions = 500
	// DefaultMaxBytes bounds the summed record body bytes per batch.
	DefaultMaxBytes = 10 * 1024 * 1024
)

// Batch is an ordered group of records shipped together. End is the cursor
// of the last record, the position the source may advance to once every
// record in the batch is accounted for.
type Batch struct {
	Records []sources.Record
	Bytes   int64
}

// End returns the cursor after the last record in the batch.
func (b Batch) End() sources.Cursor {
	if len(b.Records) == 0 {
		return sources.Cursor{}
	}
	return b.Records[len(b.Records)-1].Cursor
}

// Batcher accumulates records and emits a Batch whenever a limit fills. A
// record larger than MaxBytes on its own still ships, alone in its batch.
type Batcher struct {
	maxActions int
	maxBytes   int64

	records []sources.Record
	bytes   int64
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithMaxActions overrides the record-count limit.
func WithMaxActions(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.maxActions = n
		}
	}
}

// WithMaxBytes overrides the byte limit.
func WithMaxBytes(n int64) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

func New(opts ...Option) *Batcher {
	b := &Batcher{
		maxActions: DefaultMaxActions,
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends a record. When the record fills or overflows the current
// batch, the completed batch is returned and the overflow carries into the
// next one.
func (b *Batcher) Add(rec sources.Record) (Batch, bool) {
	size := int64(len(rec.Body))

	// A single oversized record cannot be split, so it ships alone. Emit
	// whatever was pending first.
	if size >= b.maxBytes {
		pending, ok := b.Flush()
		b.records = []sources.Record{rec}
		b.bytes = size
		if ok {
			return pending, true
		}
		return b.mustFlush(), true
	}

	if len(b.records) > 0 && b.bytes+size > b.maxBytes {
		full := b.mustFlush()
		b.records = append(b.records, rec)
		b.bytes = size
		return full, true
	}

	b.records = append(b.records, rec)
	b.bytes += size

	if len(b.records) >= b.maxActions {
		return b.mustFlush(), true
	}
	return Batch{}, false
}

// Flush returns the pending partial batch, if any.
func (b *Batcher) Flush() (Batch, bool) {
	if len(b.records) == 0 {
		return Batch{}, false
	}
	return b.mustFlush(), true
}

// Len reports the number of pending records.
func (b *Batcher) Len() int { return len(b.records) }

func (b *Batcher) mustFlush() Batch {
	batch := Batch{Records: b.records, Bytes: b.bytes}
	b.records = nil
	b.bytes = 0
	return batch
}
