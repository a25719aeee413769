package trip

import (
	"errors"
	"sync"

	"github.com/example/pet-ride/internal/models"
)

var (
	ErrNoActiveJob      = errors.New("no active job")
	ErrJobAlreadyActive = errors.New("a job is already active")
	ErrJobNotPending    = errors.New("job is not in the pending list")
)

// JobStore holds the jobs a driver can preview and the single job they are
// working on.
type JobStore struct {
	mu      sync.RWMutex
	pending []models.Order
	active  *models.Order
	// rev counts writes to the active slot.
	rev uint64
}

func NewJobStore() *JobStore { return &JobStore{} }

// SetPending replaces the preview list. The active job never appears in it.
func (s *JobStore) SetPending(jobs []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	for _, j := range jobs {
		if s.active != nil && j.ID == s.active.ID {
			continue
		}
		s.pending = append(s.pending, j)
	}
}

func (s *JobStore) Pending() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Order(nil), s.pending...)
}

func (s *JobStore) Find(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.pending {
		if j.ID == id {
			return j, true
		}
	}
	return models.Order{}, false
}

// Remove drops a job from the preview list.
func (s *JobStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.pending {
		if j.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Activate moves o into the active slot and out of the preview list.
func (s *JobStore) Activate(o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.ID != o.ID {
		return ErrJobAlreadyActive
	}
	for i, j := range s.pending {
		if j.ID == o.ID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.active = &o
	s.rev++
	return nil
}

// Active returns a copy of the active job.
func (s *JobStore) Active() (models.Order, bool) {
	o, _, ok := s.ActiveRev()
	return o, ok
}

// ActiveRev is Active plus the slot revision, for use with UpdateActiveAt.
func (s *JobStore) ActiveRev() (models.Order, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.Order{}, s.rev, false
	}
	o := *s.active
	o.Stops = append([]models.Stop(nil), s.active.Stops...)
	return o, s.rev, true
}

func (s *JobStore) HasActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil
}

// UpdateActive replaces the active job if o is the same order.
func (s *JobStore) UpdateActive(o models.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != o.ID {
		return false
	}
	s.active = &o
	s.rev++
	return true
}

// UpdateActiveAt is UpdateActive that fails if the slot was written after
// rev was read.
func (s *JobStore) UpdateActiveAt(o models.Order, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != o.ID || s.rev != rev {
		return false
	}
	s.active = &o
	s.rev++
	return true
}

func (s *JobStore) ClearActive() {
	s.mu.Lock()
	s.active = nil
	s.rev++
	s.mu.Unlock()
}
