package resultstore

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

type memoryEntry struct {
	outcome   job.Outcome
	expiresAt time.Time
}

type memoryWatch struct {
	ready chan struct{}
	refs  int
}

// MemoryStore keeps results in process memory. It signals watchers directly
// and relies on DeleteExpired to enforce the TTL.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	watches map[string]*memoryWatch
}

// NewMemoryStore creates an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		watches: make(map[string]*memoryWatch),
	}
}

func (s *MemoryStore) lookup(id string) (memoryEntry, bool) {
	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

// Put stores the outcome and wakes any watchers of id
func (s *MemoryStore) Put(_ context.Context, id string, outcome job.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(id); ok {
		return job.ErrDuplicateResult
	}

	s.entries[id] = memoryEntry{
		outcome:   outcome,
		expiresAt: s.now().Add(s.ttl),
	}

	if w, ok := s.watches[id]; ok {
		close(w.ready)
		delete(s.watches, id)
	}

	return nil
}

// Get returns the stored outcome if it has not expired
func (s *MemoryStore) Get(_ context.Context, id string) (job.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	return e.outcome, ok, nil
}

// Delete removes the entry for id
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// Len returns the number of stored entries, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Watch returns a channel closed when id is published
func (s *MemoryStore) Watch(_ context.Context, id string) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(id); ok {
		ready := make(chan struct{})
		close(ready)
		return ready, func() {}, nil
	}

	w, ok := s.watches[id]
	if !ok {
		w = &memoryWatch{ready: make(chan struct{})}
		s.watches[id] = w
	}
	w.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			w.refs--
			if w.refs == 0 && s.watches[id] == w {
				delete(s.watches, id)
			}
		})
	}

	return w.ready, release, nil
}

// DeleteExpired drops entries past their TTL
func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
