package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the process-wide registry of jobs. Every read returns a copy and
// every write goes through Update, so callers never share a live record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// UseClock replaces the time source. Intended for test setup only.
func (s *Store) UseClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Create registers a new queued job built from the provided template and
// returns its snapshot. ID, Status and CreatedAt of the template are overwritten.
func (s *Store) Create(template Job) Job {
	newJob := template.clone()
	newJob.ID = uuid.NewString()
	newJob.Status = StatusQueued
	newJob.Progress = 0

	s.mu.Lock()
	newJob.CreatedAt = s.now()
	s.jobs[newJob.ID] = &newJob
	snapshot := newJob.clone()
	s.mu.Unlock()
	return snapshot
}

func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return found.clone(), nil
}

// Update applies mutate to a copy of the job and commits it atomically.
// If mutate returns an error or the status change is not a legal transition,
// the stored job is left untouched.
func (s *Store) Update(id string, mutate func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	draft := current.clone()
	if err := mutate(&draft); err != nil {
		return current.clone(), err
	}
	draft.ID = current.ID
	draft.CreatedAt = current.CreatedAt
	if !CanTransition(current.Status, draft.Status) {
		return current.clone(), newErrTransition(current.Status, draft.Status)
	}
	if draft.Status != current.Status {
		switch draft.Status {
		case StatusRunning:
			draft.StartedAt = s.now()
		case StatusCompleted, StatusError:
			draft.CompletedAt = s.now()
		case StatusExpired:
			draft.ExpiredAt = s.now()
		}
	}
	s.jobs[id] = &draft
	return draft.clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// List returns snapshots of all jobs in no particular order.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	return out
}

// Count returns how many jobs satisfy match.
func (s *Store) Count(match func(Job) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if match(*j) {
			n++
		}
	}
	return n
}
