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

package offsets

import (
	"context"
	"sync"

	"github.com/cardinalhq/logrunner/internal/sources"
)

// MemStore is an in-memory Store for tests and single-process runs.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

func (s *MemStore) Get(ctx context.Context, id sources.Identity) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id.Key()]
	return entry, ok, nil
}

func (s *MemStore) Put(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Identity.Key()] = entry
	return nil
}

func (s *MemStore) Delete(ctx context.Context, id sources.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id.Key())
	return nil
}
