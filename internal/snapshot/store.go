package snapshot

import (
	"sort"
	"sync"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/ports"
)

// Store holds exactly the latest committed snapshot per dataset key.
// Commit is a single pointer swap, so readers never observe a snapshot with
// records from two different parse cycles.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.Snapshot
}

var _ ports.SnapshotStore = (*Store)(nil)

// New builds an empty store.
func New() *Store {
	return &Store{snapshots: make(map[string]*domain.Snapshot)}
}

// Get returns the latest snapshot for a key, if any.
func (s *Store) Get(datasetKey string) (*domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[datasetKey]
	return snap, ok
}

// Commit swaps in a fully-built snapshot. No history is kept.
func (s *Store) Commit(snap *domain.Snapshot) {
	if snap == nil || snap.DatasetKey == "" {
		return
	}
	s.mu.Lock()
	s.snapshots[snap.DatasetKey] = snap
	s.mu.Unlock()
}

// Keys lists dataset keys most-recent-first by fetch time.
func (s *Store) Keys() []string {
	s.mu.RLock()
	snaps := make([]*domain.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].FetchedAt.After(snaps[j].FetchedAt)
	})

	keys := make([]string, len(snaps))
	for i, snap := range snaps {
		keys[i] = snap.DatasetKey
	}
	return keys
}
