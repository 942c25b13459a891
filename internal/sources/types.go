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
)

// Source type names, also used as the Identity.Type discriminator.
const (
	TypeObjectStore  = "object_store"
	TypeQueue        = "queue"
	TypeStream       = "stream"
	TypeSubscription = "subscription"
	TypeReplay       = "replay"
)

// ErrSourceUnavailable marks a source whose backing data no longer exists
// (expired retention, deleted object). Fatal for the source, never retried.
var ErrSourceUnavailable = errors.New("source no longer available")

// Identity is the stable key for one origin of data. It survives
// re-delivery of the same event-source notification.
type Identity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Key returns the identity in its persisted-store form.
func (id Identity) Key() string { return id.Type + ":" + id.ID }

func (id Identity) String() string { return id.Key() }

// Cursor marks a position within a source. Unit addresses the sub-payload
// for multi-part sources (stream record index, subscription entry index),
// Offset is the byte position within that unit, and Token carries the
// provider resume token (stream sequence number) when one exists.
//
// A Cursor denotes: everything up to and including this position has been
// durably shipped or handed to the replay path.
type Cursor struct {
	Unit   int64  `json:"unit"`
	Offset int64  `json:"offset"`
	Token  string `json:"token,omitempty"`
}

// Compare orders cursors within one identity: first by Unit, then Offset.
func (c Cursor) Compare(o Cursor) int {
	switch {
	case c.Unit < o.Unit:
		return -1
	case c.Unit > o.Unit:
		return 1
	case c.Offset < o.Offset:
		return -1
	case c.Offset > o.Offset:
		return 1
	default:
		return 0
	}
}

// IsZero reports a start-of-source cursor.
func (c Cursor) IsZero() bool { return c.Unit == 0 && c.Offset == 0 && c.Token == "" }

// Record is one decoded unit of log data. Immutable after creation.
type Record struct {
	Identity Identity
	// Start is the byte offset where the record begins within its unit.
	Start int64
	// Cursor is the position immediately after the record.
	Cursor Cursor

	Body []byte
	// Path identifies where the data came from, shipped as log.file.path.
	Path string
	// Fields carries provider-specific metadata merged into the document.
	Fields map[string]any
	Tags   []string

	Dataset   string
	Namespace string

	// Attempts counts replay passes already made; zero for fresh records.
	Attempts int
}

// Iterator yields Records until io.EOF. A decode fault surfaces as a
// *decoder.DecodeError after the records preceding the fault.
type Iterator interface {
	Next(ctx context.Context) (Record, error)
	Close() error
}

// Source adapts one event-source payload into a restartable record stream.
type Source interface {
	Identity() Identity
	// Envelope returns the typed inbound payload, used to serialize
	// continuation state for this source.
	Envelope() Envelope
	// Open positions the source at the given cursor and returns its
	// records. Returns ErrSourceUnavailable (wrapped) when the backing
	// data is gone.
	Open(ctx context.Context, from Cursor) (Iterator, error)
}
