// Package job tracks refresh cycles started asynchronously over the API.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/stratsync/internal/core"
)

// Status represents job status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Job represents an async job.
type Job struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Status    Status      `json:"status"`
	Result    any         `json:"result,omitempty"`
	Error     *core.Error `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Done reports whether the job reached a final status.
func (j Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Store keeps the most recent jobs in memory. Jobs older than ttl and the
// oldest jobs beyond maxSize are evicted on Create.
type Store struct {
	jobs    map[string]*Job
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewStore creates a new job store.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create creates a new job and returns a copy of it.
func (s *Store) Create(jobType string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return *job
}

func (s *Store) evictLocked(now time.Time) {
	for len(s.order) > 0 {
		oldest := s.jobs[s.order[0]]
		expired := s.ttl > 0 && now.Sub(oldest.UpdatedAt) > s.ttl
		if len(s.order) < s.maxSize && !expired {
			return
		}
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

// Get retrieves a copy of a job by ID.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, core.WrapError(core.ErrNotFound, errors.New("job "+id))
	}
	return *job, nil
}

// Update modifies a job using an update function.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.WrapError(core.ErrNotFound, errors.New("job "+id))
	}

	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

// Finish records the result of a job. A non-nil err marks it failed.
func (s *Store) Finish(id string, result any, err error) error {
	return s.Update(id, func(j *Job) {
		j.Result = result
		if err == nil {
			j.Status = StatusComplete
			return
		}
		j.Status = StatusFailed
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			coreErr = core.WrapError(core.ErrStoreFailed, err)
		}
		j.Error = coreErr
	})
}

// List returns all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, *s.jobs[id])
	}
	return result
}
