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

package continuation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cardinalhq/logrunner/internal/queue"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// State is everything a later pass needs to finish an interrupted source:
// the envelope to rebuild it and the cursor to resume from.
type State struct {
	Envelope sources.Envelope `json:"envelope"`
	Cursor   sources.Cursor   `json:"cursor"`
	// OriginalMessageID ties the continuation back to the notification
	// that started the work, for tracing across passes.
	OriginalMessageID string `json:"original_message_id,omitempty"`
}

// PersistError marks a failure to durably save continuation state. Work
// past the last persisted cursor would be silently lost on resume, so this
// always aborts the pass.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("continuation state not persisted: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Enqueuer writes continuation state to the continuing queue.
type Enqueuer struct {
	q queue.Queue
}

func NewEnqueuer(q queue.Queue) *Enqueuer {
	return &Enqueuer{q: q}
}

// Enqueue persists the state. Any failure is a *PersistError.
func (e *Enqueuer) Enqueue(ctx context.Context, state State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return &PersistError{Err: err}
	}
	attrs := map[string]string{"kind": "continuation"}
	if state.OriginalMessageID != "" {
		attrs["original_message_id"] = state.OriginalMessageID
	}
	if err := e.q.Send(ctx, body, attrs); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}

// Decode parses a continuing-queue message body back into State.
func Decode(body []byte) (State, error) {
	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return State{}, fmt.Errorf("decode continuation state: %w", err)
	}
	if err := state.Envelope.Validate(); err != nil {
		return State{}, fmt.Errorf("decode continuation state: %w", err)
	}
	return state, nil
}
