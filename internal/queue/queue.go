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

// Package queue abstracts the work queues the pipeline leases from:
// notification, continuation, and replay. Messages stay leased until
// deleted; an undeleted message reappears after its visibility window.
package queue

import (
	"context"
	"time"
)

// Message is one leased queue message. Receipt is the lease handle used to
// delete it.
type Message struct {
	ID         string
	Receipt    string
	Body       []byte
	Attributes map[string]string
}

// Queue sends and leases messages with at-least-once semantics.
type Queue interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) error
	// Receive leases up to max messages, invisible to other consumers for
	// the visibility duration. Returns an empty slice when the queue is
	// drained.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)
	// Delete acknowledges a leased message so it never redelivers.
	Delete(ctx context.Context, receipt string) error
}
