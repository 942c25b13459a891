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
)

// SubscriptionSource streams the pre-decoded entries of a log-subscription
// delivery. Entries are already unwrapped by the trigger layer; each one is
// its own unit so cursors index entries, not bytes of the outer batch.
type SubscriptionSource struct {
	event    SubscriptionEvent
	settings Settings
}

var _ Source = (*SubscriptionSource)(nil)

func NewSubscriptionSource(event SubscriptionEvent, settings Settings) *SubscriptionSource {
	return &SubscriptionSource{event: event, settings: settings}
}

func (s *SubscriptionSource) Identity() Identity {
	id := s.event.Group + "/" + s.event.Stream
	if len(s.event.Entries) > 0 {
		id += "/" + s.event.Entries[0].ID
	}
	return Identity{Type: TypeSubscription, ID: id}
}

func (s *SubscriptionSource) Envelope() Envelope {
	ev := s.event
	return Envelope{Type: TypeSubscription, Subscription: &ev}
}

func (s *SubscriptionSource) Open(ctx context.Context, from Cursor) (Iterator, error) {
	path := s.event.Group + "/" + s.event.Stream
	units := make([]unit, 0, len(s.event.Entries))
	for _, entry := range s.event.Entries {
		units = append(units, unit{
			payload: []byte(entry.Message),
			token:   entry.ID,
			path:    path,
			fields: map[string]any{
				"cloud.log.group":  s.event.Group,
				"cloud.log.stream": s.event.Stream,
				"event.id":         entry.ID,
			},
		})
	}
	return newUnitIterator(s.Identity(), s.settings, units, from)
}
