package application

import (
	"sync"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
)

// slot is a single arena cell. The slot mutex serializes all access to
// the batch it holds, so event handling for one batch never races with
// the sweep or a concurrent duplicate delivery.
type slot struct {
	mu    sync.Mutex
	id    domain.BatchID
	batch *domain.BatchAggregate
}

// BatchStore is a bounded in-memory store for in-flight batches. Batches
// live in a fixed arena; an index maps batch IDs to arena slots and a
// free list recycles slots as batches reach terminal states. The fixed
// capacity puts a hard ceiling on memory regardless of ingress rate.
//
// Lock order is always index before slot. Mutate acquires slot locks
// without holding the index lock and re-checks slot ownership after
// acquisition to handle slot reuse.
type BatchStore struct {
	mu    sync.RWMutex
	index map[domain.BatchID]int
	arena []slot
	free  []int
}

// NewBatchStore creates a store that tracks at most capacity concurrent
// batches.
func NewBatchStore(capacity int) *BatchStore {
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &BatchStore{
		index: make(map[domain.BatchID]int, capacity),
		arena: make([]slot, capacity),
		free:  free,
	}
}

// Mutate runs fn against the batch identified by id under the batch's
// exclusive lock. When the batch is unknown and init is non-nil, the
// batch is created first; with a nil init an unknown id returns
// ErrUnknownBatch. An init that returns nil aborts creation and also
// yields ErrUnknownBatch, which lets callers re-check eligibility under
// the index lock. When fn reports done, the batch's slot is released
// back to the free list after fn returns.
//
// Returns ErrStoreFull when creation is required but every slot is
// occupied.
func (s *BatchStore) Mutate(
	id domain.BatchID,
	init func() *domain.BatchAggregate,
	fn func(b *domain.BatchAggregate) (done bool, err error),
) error {
	for {
		s.mu.RLock()
		idx, ok := s.index[id]
		s.mu.RUnlock()

		if !ok {
			if init == nil {
				return domain.ErrUnknownBatch
			}
			var err error
			if idx, err = s.allocate(id, init); err != nil {
				return err
			}
		}

		sl := &s.arena[idx]
		sl.mu.Lock()
		if sl.id != id {
			// The slot was released and reused between lookup and
			// acquisition. Retry the lookup.
			sl.mu.Unlock()
			continue
		}

		done, err := fn(sl.batch)
		sl.mu.Unlock()

		if done {
			s.release(id, idx)
		}
		return err
	}
}

// allocate binds a free slot to id, creating the batch via init. A
// concurrent allocation for the same id wins benignly; the existing
// slot index is returned.
func (s *BatchStore) allocate(id domain.BatchID, init func() *domain.BatchAggregate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.index[id]; ok {
		return idx, nil
	}
	if len(s.free) == 0 {
		return 0, domain.ErrStoreFull
	}

	b := init()
	if b == nil {
		return 0, domain.ErrUnknownBatch
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	sl := &s.arena[idx]
	sl.mu.Lock()
	sl.id = id
	sl.batch = b
	sl.mu.Unlock()

	s.index[id] = idx
	return idx, nil
}

// release returns a slot to the free list once its batch is terminal.
func (s *BatchStore) release(id domain.BatchID, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.index[id]
	if !ok || cur != idx {
		return
	}
	delete(s.index, id)

	sl := &s.arena[idx]
	sl.mu.Lock()
	sl.id = ""
	sl.batch = nil
	sl.mu.Unlock()

	s.free = append(s.free, idx)
}

// Get returns a deep snapshot of the batch identified by id.
func (s *BatchStore) Get(id domain.BatchID) (*domain.BatchAggregate, error) {
	s.mu.RLock()
	idx, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownBatch
	}

	sl := &s.arena[idx]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.id != id {
		return nil, domain.ErrUnknownBatch
	}
	snap := sl.batch.Snapshot()
	return &snap, nil
}

// ExpiredBefore returns the IDs of non-terminal batches whose deadline
// has passed as of now. The sweep resolves each one through Mutate so
// the terminal transition happens under the batch lock.
func (s *BatchStore) ExpiredBefore(now time.Time) []domain.BatchID {
	s.mu.RLock()
	ids := make([]domain.BatchID, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var expired []domain.BatchID
	for _, id := range ids {
		s.mu.RLock()
		idx, ok := s.index[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		sl := &s.arena[idx]
		sl.mu.Lock()
		if sl.id == id && now.After(sl.batch.Deadline) {
			expired = append(expired, id)
		}
		sl.mu.Unlock()
	}
	return expired
}

// CountByStatus returns the number of tracked batches per status.
func (s *BatchStore) CountByStatus() map[domain.BatchStatus]int {
	s.mu.RLock()
	type entry struct {
		id  domain.BatchID
		idx int
	}
	entries := make([]entry, 0, len(s.index))
	for id, idx := range s.index {
		entries = append(entries, entry{id, idx})
	}
	s.mu.RUnlock()

	counts := make(map[domain.BatchStatus]int)
	for _, e := range entries {
		sl := &s.arena[e.idx]
		sl.mu.Lock()
		if sl.id == e.id {
			counts[sl.batch.Status]++
		}
		sl.mu.Unlock()
	}
	return counts
}

// Len returns the number of batches currently tracked.
func (s *BatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Capacity returns the fixed arena size.
func (s *BatchStore) Capacity() int { return len(s.arena) }
