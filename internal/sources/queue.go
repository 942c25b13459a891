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
	"encoding/base64"
	"unicode/utf8"
)

// QueueSource treats a queue message body as the log payload itself. The
// body is a single unit; its lines carry byte offsets like any other stream.
type QueueSource struct {
	event    QueueEvent
	settings Settings
}

var _ Source = (*QueueSource)(nil)

func NewQueueSource(event QueueEvent, settings Settings) *QueueSource {
	return &QueueSource{event: event, settings: settings}
}

func (s *QueueSource) Identity() Identity {
	return Identity{Type: TypeQueue, ID: s.event.Queue + "/" + s.event.MessageID}
}

func (s *QueueSource) Envelope() Envelope {
	ev := s.event
	return Envelope{Type: TypeQueue, Queue: &ev}
}

func (s *QueueSource) Open(ctx context.Context, from Cursor) (Iterator, error) {
	payload := decodeIfBase64(s.event.Body)
	units := []unit{{payload: payload, path: s.event.Queue}}
	return newUnitIterator(s.Identity(), s.settings, units, from)
}

// decodeIfBase64 unwraps producers that base64-wrap their payloads. The body
// is only swapped when it decodes cleanly and the result is gzip or valid
// text, so binary-looking plain bodies pass through untouched.
func decodeIfBase64(body []byte) []byte {
	if len(body) == 0 || len(body)%4 != 0 {
		return body
	}
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return body
	}
	if isGzipPayload(decoded) || utf8.Valid(decoded) {
		return decoded
	}
	return body
}
