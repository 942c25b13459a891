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
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/cardinalhq/logrunner/internal/decoder"
)

// Settings carries per-input decode and enrichment configuration shared by
// all source constructors.
type Settings struct {
	Encoding  decoder.Encoding
	Multiline *decoder.Rule
	Tags      []string
	Dataset   string
	Namespace string
}

func (s Settings) encoding() decoder.Encoding {
	if s.Encoding == "" {
		return decoder.EncodingAuto
	}
	return s.Encoding
}

// unit is one independently decodable payload within a multi-part source.
type unit struct {
	payload []byte
	token   string
	path    string
	fields  map[string]any
}

// unitIterator walks a slice of in-memory units, resuming at a cursor. Each
// unit restarts line offsets at zero; the cursor's Unit index selects the
// payload and Offset the position within it.
type unitIterator struct {
	identity Identity
	settings Settings
	units    []unit

	pos int64
	dec *decoder.Decoder
}

var _ Iterator = (*unitIterator)(nil)

func newUnitIterator(identity Identity, settings Settings, units []unit, from Cursor) (*unitIterator, error) {
	it := &unitIterator{
		identity: identity,
		settings: settings,
		units:    units,
		pos:      from.Unit,
	}
	if err := it.openUnit(from.Offset); err != nil {
		return nil, err
	}
	return it, nil
}

// openUnit builds a decoder for the current unit positioned at offset.
// Compressed payloads cannot be sliced, so resumption decompresses from the
// top and discards; plain payloads are sliced directly.
func (it *unitIterator) openUnit(offset int64) error {
	it.dec = nil
	if it.pos >= int64(len(it.units)) {
		return nil
	}

	payload := it.units[it.pos].payload
	opts := []decoder.Option{decoder.WithEncoding(it.settings.encoding())}
	if it.settings.Multiline != nil {
		opts = append(opts, decoder.WithMultiline(it.settings.Multiline))
	}

	if offset > 0 && !isGzipPayload(payload) && it.settings.encoding() != decoder.EncodingGzip {
		if offset >= int64(len(payload)) {
			// Unit fully consumed in an earlier pass.
			return nil
		}
		payload = payload[offset:]
		opts = append(opts, decoder.WithStartOffset(offset))
	} else if offset > 0 {
		opts = append(opts, decoder.WithDiscard(offset))
	}

	dec, err := decoder.New(bytes.NewReader(payload), opts...)
	if err != nil {
		return err
	}
	it.dec = dec
	return nil
}

func isGzipPayload(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func (it *unitIterator) Next(ctx context.Context) (Record, error) {
	for {
		if it.pos >= int64(len(it.units)) {
			return Record{}, io.EOF
		}
		if it.dec == nil {
			if err := it.advance(); err != nil {
				return Record{}, err
			}
			continue
		}

		line, err := it.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if aerr := it.advance(); aerr != nil {
					return Record{}, aerr
				}
				continue
			}
			return Record{}, err
		}

		u := it.units[it.pos]
		return Record{
			Identity:  it.identity,
			Start:     line.Start,
			Cursor:    Cursor{Unit: it.pos, Offset: line.End, Token: u.token},
			Body:      line.Bytes,
			Path:      u.path,
			Fields:    u.fields,
			Tags:      it.settings.Tags,
			Dataset:   it.settings.Dataset,
			Namespace: it.settings.Namespace,
		}, nil
	}
}

func (it *unitIterator) advance() error {
	it.pos++
	return it.openUnit(0)
}

func (it *unitIterator) Close() error { return nil }
