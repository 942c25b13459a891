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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"pattern ok", Rule{Type: "pattern", Pattern: `^\s`}, false},
		{"pattern missing regexp", Rule{Type: "pattern"}, true},
		{"pattern bad regexp", Rule{Type: "pattern", Pattern: `([`}, true},
		{"count ok", Rule{Type: "count", CountLines: 3}, false},
		{"count missing lines", Rule{Type: "count"}, true},
		{"while ok", Rule{Type: "while_pattern", Pattern: `^{`}, false},
		{"unknown type", Rule{Type: "wat"}, true},
		{"bad match", Rule{Type: "pattern", Pattern: `x`, Match: "sideways"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMultiline_PatternAfter_StackTrace(t *testing.T) {
	content := "panic: boom\n\tat main.go:10\n\tat main.go:20\nnext event\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:    "pattern",
		Pattern: `^\s`,
		Match:   "after",
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)

	assert.Equal(t, "panic: boom\n\tat main.go:10\n\tat main.go:20", string(lines[0].Bytes))
	assert.Equal(t, int64(0), lines[0].Start)
	// The aggregated cursor is the end of the last constituent line.
	assert.Equal(t, int64(len("panic: boom\n\tat main.go:10\n\tat main.go:20\n")), lines[0].End)

	assert.Equal(t, "next event", string(lines[1].Bytes))
	assert.Equal(t, int64(len(content)), lines[1].End)
}

func TestMultiline_PatternAfterNegate(t *testing.T) {
	// Events start with a timestamp; every non-timestamp line continues.
	content := "2024-01-01 start\ndetail one\ndetail two\n2024-01-02 next\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:    "pattern",
		Pattern: `^\d{4}-`,
		Negate:  true,
		Match:   "after",
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-01-01 start\ndetail one\ndetail two", string(lines[0].Bytes))
	assert.Equal(t, "2024-01-02 next", string(lines[1].Bytes))
}

func TestMultiline_PatternBefore(t *testing.T) {
	// A line ending in a backslash announces a continuation.
	content := "part one \\\npart two \\\npart three\nother\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:    "pattern",
		Pattern: `\\$`,
		Match:   "before",
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.Equal(t, "part one \\\npart two \\\npart three", string(lines[0].Bytes))
	assert.Equal(t, "other", string(lines[1].Bytes))
}

func TestMultiline_FlushPattern(t *testing.T) {
	content := "begin\nwork\nEND\nbegin\nmore\nEND\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:    "pattern",
		Pattern: `^END`,
		Negate:  true,
		Match:   "after",

		FlushPattern: `^END`,
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 2)
	assert.Equal(t, "begin\nwork\nEND", string(lines[0].Bytes))
	assert.Equal(t, "begin\nmore\nEND", string(lines[1].Bytes))
}

func TestMultiline_Count(t *testing.T) {
	content := "a\nb\nc\nd\ne\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:       "count",
		CountLines: 2,
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 3)
	assert.Equal(t, "a\nb", string(lines[0].Bytes))
	assert.Equal(t, "c\nd", string(lines[1].Bytes))
	// Remainder flushes at end of stream.
	assert.Equal(t, "e", string(lines[2].Bytes))
	assert.Equal(t, int64(10), lines[2].End)
}

func TestMultiline_WhilePattern(t *testing.T) {
	content := "{ a\n{ b\nplain\n{ c\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:    "while_pattern",
		Pattern: `^{`,
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 3)
	assert.Equal(t, "{ a\n{ b", string(lines[0].Bytes))
	// The non-matching line is emitted on its own.
	assert.Equal(t, "plain", string(lines[1].Bytes))
	assert.Equal(t, "{ c", string(lines[2].Bytes))
}

func TestMultiline_MaxLinesCapKeepsOffsets(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"

	d, err := New(strings.NewReader(content), WithMultiline(&Rule{
		Type:       "count",
		CountLines: 4,
		MaxLines:   2,
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 1)
	// Content is capped at two lines but the offset covers all four.
	assert.Equal(t, "one\ntwo", string(lines[0].Bytes))
	assert.Equal(t, int64(len(content)), lines[0].End)
}

func TestMultiline_SkipNewline(t *testing.T) {
	d, err := New(strings.NewReader("a\nb\n"), WithMultiline(&Rule{
		Type:        "count",
		CountLines:  2,
		SkipNewline: true,
	}))
	require.NoError(t, err)

	lines := collect(t, d)
	require.Len(t, lines, 1)
	assert.Equal(t, "ab", string(lines[0].Bytes))
}
