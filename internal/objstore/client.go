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

// Package objstore reads objects out of cloud object storage. Readers are
// ranged so a stream can be reopened mid-object after an interrupted pass.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotFound is returned when the requested object does not exist. Callers
// treat it as a transient source condition, not a fatal fault, because a
// notification can outlive its object.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes an object without fetching its payload.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified int64
}

// Client fetches objects from a storage backend.
type Client interface {
	// OpenRange returns a reader over the object starting at byte offset
	// start. A start of 0 reads the whole object.
	OpenRange(ctx context.Context, bucket, key string, start int64) (io.ReadCloser, error)

	// Head returns object metadata without reading the payload.
	Head(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

var (
	fetchCount  metric.Int64Counter
	fetchErrors metric.Int64Counter
	fetchBytes  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/logrunner/internal/objstore")

	var err error
	fetchCount, err = meter.Int64Counter(
		"logrunner.objstore.fetch.count",
		metric.WithDescription("Number of object fetches"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.count counter: %w", err))
	}

	fetchErrors, err = meter.Int64Counter(
		"logrunner.objstore.fetch.errors",
		metric.WithDescription("Number of object fetch errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.errors counter: %w", err))
	}

	fetchBytes, err = meter.Int64Counter(
		"logrunner.objstore.fetch.bytes",
		metric.WithDescription("Bytes read from object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.bytes counter: %w", err))
	}
}

// countingReader wraps a payload reader and records bytes read on Close.
type countingReader struct {
	io.ReadCloser
	ctx  context.Context
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.read += int64(n)
	return n, err
}

func (c *countingReader) Close() error {
	fetchBytes.Add(c.ctx, c.read)
	return c.ReadCloser.Close()
}
