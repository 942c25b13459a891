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

// Package offsets tracks per-source delivery progress so re-delivered
// notifications resume instead of re-shipping.
package offsets

import (
	"context"
	"time"

	"github.com/cardinalhq/logrunner/internal/sources"
)

// State is the lifecycle of one source identity.
type State string

const (
	// StateUnseen means no pass has touched this identity yet.
	StateUnseen State = "unseen"
	// StateInProgress means a pass shipped part of the source.
	StateInProgress State = "in_progress"
	// StateComplete means every record was shipped or durably replayed.
	StateComplete State = "complete"
)

// Entry is the persisted progress row for one identity.
type Entry struct {
	Identity  sources.Identity
	State     State
	Cursor    sources.Cursor
	UpdatedAt time.Time
}

// Store persists Entries. Implementations must make Put durable before
// returning, since cursor advancement gates on it.
type Store interface {
	Get(ctx context.Context, id sources.Identity) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id sources.Identity) error
}
