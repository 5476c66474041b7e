package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/t77yq/trigger-planner/internal/model"
)

// MemoryJobStore keeps jobs in memory in insertion order. Jobs are copied on
// the way in and out so callers never share state with the store.
type MemoryJobStore struct {
	mu    sync.RWMutex
	order []string
	jobs  map[string]*model.Job
}

// NewMemoryJobStore creates a store seeded with jobs
func NewMemoryJobStore(jobs ...*model.Job) *MemoryJobStore {
	s := &MemoryJobStore{jobs: make(map[string]*model.Job)}
	for _, job := range jobs {
		s.put(job)
	}
	return s
}

func (s *MemoryJobStore) put(job *model.Job) {
	if _, exists := s.jobs[job.Name]; !exists {
		s.order = append(s.order, job.Name)
	}
	s.jobs[job.Name] = job.Clone()
}

// Save implements scheduler.JobStore
func (s *MemoryJobStore) Save(ctx context.Context, job *model.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
	return nil
}

// SaveAll implements scheduler.JobStore; nothing is stored if any job is invalid
func (s *MemoryJobStore) SaveAll(ctx context.Context, jobs []*model.Job) error {
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		s.put(job)
	}
	return nil
}

// Get implements scheduler.JobStore
func (s *MemoryJobStore) Get(ctx context.Context, name string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}
	return job.Clone(), nil
}

// List implements scheduler.JobStore
func (s *MemoryJobStore) List(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*model.Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name].Clone())
	}
	return jobs, nil
}
