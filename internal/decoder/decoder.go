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

package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Encoding selects how the raw byte stream is interpreted before line
// splitting.
type Encoding string

const (
	// EncodingAuto sniffs the gzip magic bytes and decompresses when present.
	EncodingAuto Encoding = "auto"
	// EncodingPlain never decompresses.
	EncodingPlain Encoding = "plain"
	// EncodingGzip always decompresses; a malformed header is a decode fault.
	EncodingGzip Encoding = "gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Line is one decoded record. Offsets are measured over the inflated byte
// stream and include the line terminator, so End is the resume position for
// the next record.
type Line struct {
	Bytes      []byte
	Start      int64
	End        int64
	NewlineLen int
	// Truncated marks a line that reached end of stream without a
	// terminator. The caller decides whether to ship it or resume later.
	Truncated bool
}

// DecodeError reports malformed input at a byte offset. Records decoded
// before the fault are still emitted; the fault surfaces afterwards.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode fault at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type options struct {
	encoding    Encoding
	startOffset int64
	discard     int64
	rule        *Rule
}

// Option configures a Decoder.
type Option func(*options)

// WithEncoding sets the stream encoding. The default is EncodingAuto.
func WithEncoding(enc Encoding) Option {
	return func(o *options) { o.encoding = enc }
}

// WithStartOffset declares that the underlying reader is already positioned
// at the given offset, so emitted offsets start there. Used for ranged
// object reads.
func WithStartOffset(n int64) Option {
	return func(o *options) { o.startOffset = n }
}

// WithDiscard reads and drops n bytes after decompression before emitting
// records. Used to resume inside compressed streams, which cannot be opened
// mid-range.
func WithDiscard(n int64) Option {
	return func(o *options) { o.discard = n }
}

// WithMultiline enables multiline aggregation with the given rule.
func WithMultiline(rule *Rule) Option {
	return func(o *options) { o.rule = rule }
}

// Decoder turns a byte stream into a finite sequence of Lines with stable
// offsets. It is restartable: constructing a new Decoder positioned at a
// previously observed End offset continues the sequence without gaps.
type Decoder struct {
	br     *bufio.Reader
	offset int64
	agg    *aggregator
	err    error
}

// New builds a Decoder over r. A malformed compression header is returned
// as a DecodeError.
func New(r io.Reader, opts ...Option) (*Decoder, error) {
	o := options{encoding: EncodingAuto}
	for _, opt := range opts {
		opt(&o)
	}

	br := bufio.NewReaderSize(r, 64*1024)

	gzipped := o.encoding == EncodingGzip
	if o.encoding == EncodingAuto {
		magic, err := br.Peek(2)
		if err == nil && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
			gzipped = true
		}
	}

	if gzipped {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, &DecodeError{Offset: o.startOffset, Err: err}
		}
		br = bufio.NewReaderSize(zr, 64*1024)
	}

	d := &Decoder{br: br, offset: o.startOffset}

	if o.discard > 0 {
		n, err := io.CopyN(io.Discard, br, o.discard)
		d.offset += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = &DecodeError{Offset: d.offset, Err: err}
			}
		}
	}

	if o.rule != nil {
		agg, err := newAggregator(o.rule, d.readLine)
		if err != nil {
			return nil, err
		}
		d.agg = agg
	}

	return d, nil
}

// Next returns the next Line, io.EOF at end of stream, or a DecodeError if
// the input is corrupt. After a non-EOF error the Decoder is exhausted.
func (d *Decoder) Next() (Line, error) {
	if d.agg != nil {
		return d.agg.next()
	}
	return d.readLine()
}

// Offset reports the end offset of the last emitted line, or the start
// offset if nothing was emitted yet.
func (d *Decoder) Offset() int64 { return d.offset }

func (d *Decoder) readLine() (Line, error) {
	if d.err != nil {
		return Line{}, d.err
	}

	data, err := d.br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			d.err = io.EOF
		} else {
			// Corrupt input (e.g. a gzip stream that fails mid-body).
			// Emit what was decoded first; report the fault on the
			// next call so no record before the fault point is lost.
			d.err = &DecodeError{Offset: d.offset + int64(len(data)), Err: err}
		}
		if len(data) == 0 {
			return Line{}, d.err
		}
	}

	start := d.offset
	d.offset += int64(len(data))

	body := data
	nl := 0
	if n := len(body); n > 0 && body[n-1] == '\n' {
		nl = 1
		body = body[:n-1]
		if n > 1 && body[len(body)-1] == '\r' {
			nl = 2
			body = body[:len(body)-1]
		}
	}

	return Line{
		Bytes:      body,
		Start:      start,
		End:        d.offset,
		NewlineLen: nl,
		Truncated:  nl == 0,
	}, nil
}
