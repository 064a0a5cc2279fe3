// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Centralised store of per-video metrics.

package metric

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrRecordNotFound = errors.New("record not found")

type ID int64

// Store is a concurrency safe in-memory store of records of type R. IDs are
// assigned in insertion order.
type Store[R any] struct {
	mu      sync.RWMutex
	records map[ID]R
	next    ID
}

func NewStore[R any]() *Store[R] {
	return &Store[R]{
		records: make(map[ID]R),
	}
}

func (s *Store[R]) Insert(r R) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = r
	id := s.next
	s.next++

	return id
}

func (s *Store[R]) Get(id ID) (R, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return r, fmt.Errorf("getting record: %w", ErrRecordNotFound)
	}

	return r, nil
}

// All returns all records ordered by ID.
func (s *Store[R]) All() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	all := make([]R, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.records[id])
	}
	return all
}
