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

package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cardinalhq/logrunner/internal/decoder"
	"github.com/cardinalhq/logrunner/internal/objstore"
)

// ObjectStoreSource streams one stored object as records. Plain objects
// resume with a ranged read; compressed objects reopen at zero and discard
// up to the cursor, since compressed streams cannot be entered mid-range.
type ObjectStoreSource struct {
	event    ObjectStoreEvent
	store    objstore.Client
	settings Settings
}

var _ Source = (*ObjectStoreSource)(nil)

func NewObjectStoreSource(event ObjectStoreEvent, store objstore.Client, settings Settings) *ObjectStoreSource {
	return &ObjectStoreSource{event: event, store: store, settings: settings}
}

func (s *ObjectStoreSource) Identity() Identity {
	return Identity{Type: TypeObjectStore, ID: s.event.Bucket + "/" + s.event.Key}
}

func (s *ObjectStoreSource) Envelope() Envelope {
	ev := s.event
	return Envelope{Type: TypeObjectStore, ObjectStore: &ev}
}

func (s *ObjectStoreSource) Open(ctx context.Context, from Cursor) (Iterator, error) {
	info, err := s.store.Head(ctx, s.event.Bucket, s.event.Key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return nil, err
	}

	compressed := s.isCompressed(info)

	start := int64(0)
	discard := int64(0)
	if from.Offset > 0 {
		if compressed {
			discard = from.Offset
		} else {
			if from.Offset >= info.Size {
				return emptyIterator{}, nil
			}
			start = from.Offset
		}
	}

	body, err := s.store.OpenRange(ctx, s.event.Bucket, s.event.Key, start)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return nil, err
	}

	opts := []decoder.Option{decoder.WithEncoding(s.settings.encoding())}
	if start > 0 {
		// Ranged reads land mid-object, so the auto gzip sniff would
		// misfire on arbitrary payload bytes.
		opts = []decoder.Option{decoder.WithEncoding(decoder.EncodingPlain), decoder.WithStartOffset(start)}
	}
	if discard > 0 {
		opts = append(opts, decoder.WithDiscard(discard))
	}
	if s.settings.Multiline != nil {
		opts = append(opts, decoder.WithMultiline(s.settings.Multiline))
	}

	dec, err := decoder.New(body, opts...)
	if err != nil {
		_ = body.Close()
		return nil, err
	}

	return &objectIterator{
		identity: s.Identity(),
		settings: s.settings,
		path:     s.event.Bucket + "/" + s.event.Key,
		body:     body,
		dec:      dec,
	}, nil
}

// isCompressed decides whether resumption must decompress from the top.
func (s *ObjectStoreSource) isCompressed(info objstore.ObjectInfo) bool {
	if s.settings.Encoding == decoder.EncodingGzip {
		return true
	}
	if s.settings.Encoding == decoder.EncodingPlain {
		return false
	}
	return strings.HasSuffix(s.event.Key, ".gz") ||
		info.ContentType == "application/x-gzip" ||
		info.ContentType == "application/gzip"
}

type objectIterator struct {
	identity Identity
	settings Settings
	path     string
	body     io.ReadCloser
	dec      *decoder.Decoder
}

var _ Iterator = (*objectIterator)(nil)

func (it *objectIterator) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	line, err := it.dec.Next()
	if err != nil {
		return Record{}, err
	}
	return Record{
		Identity:  it.identity,
		Start:     line.Start,
		Cursor:    Cursor{Offset: line.End},
		Body:      line.Bytes,
		Path:      it.path,
		Tags:      it.settings.Tags,
		Dataset:   it.settings.Dataset,
		Namespace: it.settings.Namespace,
	}, nil
}

func (it *objectIterator) Close() error { return it.body.Close() }

type emptyIterator struct{}

func (emptyIterator) Next(ctx context.Context) (Record, error) { return Record{}, io.EOF }
func (emptyIterator) Close() error                             { return nil }
