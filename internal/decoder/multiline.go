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
	"fmt"
	"regexp"
)

const (
	defaultMultilineMaxBytes = 10 * 1024 * 1024
	defaultMultilineMaxLines = 500
)

// Rule describes how continuation lines are grouped into one logical
// record. The three types mirror the classic log-shipper multiline modes.
type Rule struct {
	// Type is one of "pattern", "count" or "while_pattern".
	Type string `mapstructure:"type"`

	// Pattern is the continuation regexp for "pattern" and "while_pattern".
	Pattern string `mapstructure:"pattern"`
	// Negate inverts the pattern match.
	Negate bool `mapstructure:"negate"`
	// Match is "after" (default) or "before", for "pattern" only.
	Match string `mapstructure:"match"`
	// FlushPattern forces the current event to flush when a line matches.
	FlushPattern string `mapstructure:"flush_pattern"`

	// CountLines is the group size for "count".
	CountLines int `mapstructure:"count_lines"`

	// MaxLines and MaxBytes cap the aggregation buffer. Lines past the cap
	// are still consumed so offsets stay accurate, but their content is not
	// appended. Zero means the default (500 lines / 10 MiB).
	MaxLines int `mapstructure:"max_lines"`
	MaxBytes int `mapstructure:"max_bytes"`

	// SkipNewline joins constituent lines without a separator.
	SkipNewline bool `mapstructure:"skip_newline"`
}

// Validate checks rule consistency and regexp syntax.
func (r *Rule) Validate() error {
	switch r.Type {
	case "pattern", "while_pattern":
		if r.Pattern == "" {
			return fmt.Errorf("multiline type %q requires a pattern", r.Type)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid multiline pattern %q: %w", r.Pattern, err)
		}
	case "count":
		if r.CountLines <= 0 {
			return fmt.Errorf("multiline type count requires count_lines > 0")
		}
	default:
		return fmt.Errorf("unknown multiline type %q", r.Type)
	}
	if r.FlushPattern != "" {
		if _, err := regexp.Compile(r.FlushPattern); err != nil {
			return fmt.Errorf("invalid flush_pattern %q: %w", r.FlushPattern, err)
		}
	}
	if r.Match != "" && r.Match != "after" && r.Match != "before" {
		return fmt.Errorf("multiline match must be after or before, got %q", r.Match)
	}
	return nil
}

// collectBuffer accumulates constituent lines of one logical record. It
// tracks offsets for every consumed line even when the content cap stops
// appending, so the emitted End offset never lies.
type collectBuffer struct {
	maxBytes    int
	maxLines    int
	skipNewline bool

	data       []byte
	lines      int
	started    bool
	start      int64
	end        int64
	newlineLen int
	truncated  bool
}

func (b *collectBuffer) grow(ln Line) {
	if !b.started {
		b.started = true
		b.start = ln.Start
	}
	if b.maxLines <= 0 || b.lines < b.maxLines {
		room := b.maxBytes - len(b.data)
		if b.maxBytes <= 0 {
			room = len(ln.Bytes)
		}
		if room > 0 {
			if len(b.data) > 0 && !b.skipNewline {
				b.data = append(b.data, '\n')
			}
			if room > len(ln.Bytes) {
				room = len(ln.Bytes)
			}
			b.data = append(b.data, ln.Bytes[:room]...)
			b.lines++
		}
	}
	b.end = ln.End
	b.newlineLen = ln.NewlineLen
	b.truncated = ln.Truncated
}

func (b *collectBuffer) empty() bool { return !b.started }

func (b *collectBuffer) flush() Line {
	ln := Line{
		Bytes:      b.data,
		Start:      b.start,
		End:        b.end,
		NewlineLen: b.newlineLen,
		Truncated:  b.truncated,
	}
	b.data = nil
	b.lines = 0
	b.started = false
	b.truncated = false
	return ln
}

type aggregator struct {
	rule    *Rule
	pattern *regexp.Regexp
	flush   *regexp.Regexp
	src     func() (Line, error)

	buf      collectBuffer
	previous []byte
	hasPrev  bool
	count    int

	queue []Line
	done  bool
	err   error
}

func newAggregator(rule *Rule, src func() (Line, error)) (*aggregator, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	a := &aggregator{rule: rule, src: src}
	if rule.Pattern != "" {
		a.pattern = regexp.MustCompile(rule.Pattern)
	}
	if rule.FlushPattern != "" {
		a.flush = regexp.MustCompile(rule.FlushPattern)
	}
	a.buf = collectBuffer{
		maxBytes:    rule.MaxBytes,
		maxLines:    rule.MaxLines,
		skipNewline: rule.SkipNewline,
	}
	if a.buf.maxBytes == 0 {
		a.buf.maxBytes = defaultMultilineMaxBytes
	}
	if a.buf.maxLines == 0 {
		a.buf.maxLines = defaultMultilineMaxLines
	}
	return a, nil
}

func (a *aggregator) matches(b []byte) bool {
	m := a.pattern.Match(b)
	if a.rule.Negate {
		return !m
	}
	return m
}

func (a *aggregator) next() (Line, error) {
	for {
		if len(a.queue) > 0 {
			ln := a.queue[0]
			a.queue = a.queue[1:]
			return ln, nil
		}
		if a.done {
			if !a.buf.empty() {
				return a.buf.flush(), nil
			}
			return Line{}, a.err
		}

		ln, err := a.src()
		if err != nil {
			a.done = true
			a.err = err
			continue
		}
		a.consume(ln)
	}
}

func (a *aggregator) consume(ln Line) {
	switch a.rule.Type {
	case "count":
		a.buf.grow(ln)
		a.count++
		if a.count >= a.rule.CountLines {
			a.count = 0
			a.queue = append(a.queue, a.buf.flush())
		}

	case "while_pattern":
		if a.matches(ln.Bytes) {
			a.buf.grow(ln)
			return
		}
		// A non-matching line terminates the current group and is
		// emitted on its own.
		if !a.buf.empty() {
			a.queue = append(a.queue, a.buf.flush())
		}
		a.buf.grow(ln)
		a.queue = append(a.queue, a.buf.flush())

	case "pattern":
		if a.flush != nil && a.flush.Match(ln.Bytes) {
			a.buf.grow(ln)
			a.hasPrev = false
			a.queue = append(a.queue, a.buf.flush())
			return
		}
		if !a.buf.empty() && !a.continues(ln.Bytes) {
			a.queue = append(a.queue, a.buf.flush())
		}
		a.buf.grow(ln)
		a.previous = ln.Bytes
		a.hasPrev = true
	}
}

// continues reports whether the line extends the buffered event under the
// pattern rule. With match=after the decision looks at the current line;
// with match=before it looks at the previous one.
func (a *aggregator) continues(cur []byte) bool {
	if a.rule.Match == "before" {
		return a.hasPrev && a.matches(a.previous)
	}
	return a.matches(cur)
}
