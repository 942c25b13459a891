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

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemQueue is an in-memory Queue with real visibility leases, used by
// tests and local runs.
type MemQueue struct {
	mu   sync.Mutex
	next int
	msgs []*memMessage
}

type memMessage struct {
	msg       Message
	visibleAt time.Time
	deleted   bool
}

var _ Queue = (*MemQueue)(nil)

func NewMemQueue() *MemQueue {
	return &MemQueue{}
}

func (q *MemQueue) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	id := fmt.Sprintf("mem-%d", q.next)
	q.msgs = append(q.msgs, &memMessage{
		msg: Message{
			ID:         id,
			Receipt:    id,
			Body:       append([]byte(nil), body...),
			Attributes: attrs,
		},
	})
	return nil
}

func (q *MemQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var out []Message
	for _, m := range q.msgs {
		if m.deleted || m.visibleAt.After(now) {
			continue
		}
		m.visibleAt = now.Add(visibility)
		out = append(out, m.msg)
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func (q *MemQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.msgs {
		if m.msg.Receipt == receipt {
			m.deleted = true
			return nil
		}
	}
	return fmt.Errorf("unknown receipt %q", receipt)
}

// Len reports messages not yet deleted, regardless of visibility.
func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.msgs {
		if !m.deleted {
			n++
		}
	}
	return n
}
