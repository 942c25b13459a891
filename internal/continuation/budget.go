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

// Package continuation lets a processing pass stop cleanly before its time
// budget runs out and hand the remainder to a later pass.
package continuation

import (
	"time"
)

// DefaultGrace is how much budget must remain when we stop doing new work.
// It covers flushing the pending batch, persisting the cursor, and
// enqueueing continuation state.
const DefaultGrace = 60 * time.Second

// Budget tracks the wall-clock allowance of one processing pass.
type Budget struct {
	deadline time.Time
	grace    time.Duration
	now      func() time.Time
}

// BudgetOption configures a Budget.
type BudgetOption func(*Budget)

// WithGrace overrides the stop-early margin.
func WithGrace(grace time.Duration) BudgetOption {
	return func(b *Budget) { b.grace = grace }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *Budget) { b.now = now }
}

// NewBudget builds a budget expiring at deadline.
func NewBudget(deadline time.Time, opts ...BudgetOption) *Budget {
	b := &Budget{
		deadline: deadline,
		grace:    DefaultGrace,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Remaining reports time left before the hard deadline.
func (b *Budget) Remaining() time.Duration {
	return b.deadline.Sub(b.now())
}

// Exhausted reports whether the pass should stop taking new work and begin
// its shutdown sequence.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= b.grace
}
