package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

// MemoryBatchStore keeps batch runs in process memory. Runs are cloned on the
// way in and out so callers never share state with the store.
type MemoryBatchStore struct {
	mu   sync.Mutex
	runs map[string]*domain.BatchRun
	now  func() time.Time
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		runs: make(map[string]*domain.BatchRun),
		now:  time.Now,
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, run *domain.BatchRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryBatchStore) GetByID(_ context.Context, id string) (*domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryBatchStore) Update(_ context.Context, id string, patch domain.BatchPatch) (*domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	next := run.Clone()
	if err := patch.Apply(next, s.now().UTC()); err != nil {
		return nil, err
	}
	s.runs[id] = next
	return next.Clone(), nil
}
