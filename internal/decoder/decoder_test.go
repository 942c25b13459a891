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
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, d *Decoder) []Line {
	t.Helper()
	var lines []Line
	for {
		ln, err := d.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, ln)
	}
}

func TestDecoder_PlainLines(t *testing.T) {
	d, err := New(strings.NewReader("alpha\nbeta\ngamma\n"))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 3)

	assert.Equal(t, "alpha", string(lines[0].Bytes))
	assert.Equal(t, int64(0), lines[0].Start)
	assert.Equal(t, int64(6), lines[0].End)
	assert.Equal(t, 1, lines[0].NewlineLen)

	assert.Equal(t, "beta", string(lines[1].Bytes))
	assert.Equal(t, int64(6), lines[1].Start)
	assert.Equal(t, int64(11), lines[1].End)

	assert.Equal(t, "gamma", string(lines[2].Bytes))
	assert.Equal(t, int64(17), lines[2].End)
	assert.False(t, lines[2].Truncated)
}

func TestDecoder_CRLF(t *testing.T) {
	d, err := New(strings.NewReader("one\r\ntwo\r\n"))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0].Bytes))
	assert.Equal(t, 2, lines[0].NewlineLen)
	assert.Equal(t, int64(5), lines[0].End)
	assert.Equal(t, int64(10), lines[1].End)
}

func TestDecoder_TruncatedFinalLine(t *testing.T) {
	d, err := New(strings.NewReader("complete\npartial"))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.False(t, lines[0].Truncated)
	assert.Equal(t, "partial", string(lines[1].Bytes))
	assert.True(t, lines[1].Truncated)
	assert.Equal(t, 0, lines[1].NewlineLen)
	assert.Equal(t, int64(16), lines[1].End)
}

func TestDecoder_EmptyTrailingLineNotEmitted(t *testing.T) {
	d, err := New(strings.NewReader("only\n"))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 1)
	assert.Equal(t, "only", string(lines[0].Bytes))
}

func TestDecoder_EmptyStream(t *testing.T) {
	d, err := New(strings.NewReader(""))
	require.NoError(t, err)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_RestartFromOffset(t *testing.T) {
	content := "first\nsecond\nthird\n"

	d, err := New(strings.NewReader(content))
	require.NoError(t, err)
	full := collect(t, d)
	require.Len(t, full, 3)

	// Resume at the End offset of the first line, as a ranged read would.
	resume := full[0].End
	d2, err := New(strings.NewReader(content[resume:]), WithStartOffset(resume))
	require.NoError(t, err)
	rest := collect(t, d2)

	require.Len(t, rest, 2)
	assert.Equal(t, full[1], rest[0])
	assert.Equal(t, full[2], rest[1])
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecoder_GzipAutoSniff(t *testing.T) {
	raw := gzipped(t, "hello\nworld\n")

	d, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", string(lines[0].Bytes))
	// Offsets count inflated bytes, not wire bytes.
	assert.Equal(t, int64(6), lines[0].End)
	assert.Equal(t, int64(12), lines[1].End)
}

func TestDecoder_GzipResumeViaDiscard(t *testing.T) {
	raw := gzipped(t, "hello\nworld\n")

	d, err := New(bytes.NewReader(raw), WithDiscard(6))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 1)
	assert.Equal(t, "world", string(lines[0].Bytes))
	assert.Equal(t, int64(6), lines[0].Start)
	assert.Equal(t, int64(12), lines[0].End)
}

func TestDecoder_MalformedGzipHeader(t *testing.T) {
	_, err := New(bytes.NewReader([]byte{0x1f, 0x8b, 0xff, 0xff}), WithEncoding(EncodingGzip))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestDecoder_CorruptGzipBody(t *testing.T) {
	raw := gzipped(t, "alpha\nbeta\ngamma\n")
	// Truncate the compressed stream mid-body.
	corrupt := raw[:len(raw)-6]

	d, err := New(bytes.NewReader(corrupt))
	require.NoError(t, err)

	var lines []Line
	var derr *DecodeError
	for {
		ln, err := d.Next()
		if err != nil {
			require.ErrorAs(t, err, &derr)
			break
		}
		lines = append(lines, ln)
	}
	// Records decoded before the fault are still emitted.
	assert.NotEmpty(t, lines)
	assert.Equal(t, "alpha", string(lines[0].Bytes))
}

func TestDecoder_PlainEncodingSkipsSniffing(t *testing.T) {
	raw := gzipped(t, "hello\n")

	d, err := New(bytes.NewReader(raw), WithEncoding(EncodingPlain))
	require.NoError(t, err)

	// The gzip bytes come through as-is.
	ln, err := d.Next()
	require.NoError(t, err)
	assert.NotEqual(t, "hello", string(ln.Bytes))
}
