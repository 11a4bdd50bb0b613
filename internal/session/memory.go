package session

import (
	"context"
	"sync"
	"time"

	"github.com/audioscribe/api/internal/model"
)

// MemoryStore is the default single-process Store: a map guarded by one
// mutex, held only for the duration of a single record read or write.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
	}
}

func (s *MemoryStore) Create(_ context.Context, sess model.Session) error {
	now := time.Now()
	sess.Status = model.StatusStarting
	sess.Progress = 0
	if sess.Total <= 0 {
		sess.Total = 100
	}
	sess.LastUpdated = now
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &sess
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.Terminal() {
		return nil
	}
	if progress > sess.Total {
		progress = sess.Total
	}
	if progress > sess.Progress {
		sess.Progress = progress
	}
	sess.CurrentStep = step
	sess.Status = model.StatusProcessing
	sess.LastUpdated = time.Now()
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.Terminal() {
		return nil
	}
	sess.Progress = sess.Total
	sess.CurrentStep = "Completed"
	sess.Status = model.StatusCompleted
	sess.LastUpdated = time.Now()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.Terminal() {
		return nil
	}
	sess.CurrentStep = "Error: " + message
	sess.Status = model.StatusError
	sess.LastUpdated = time.Now()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.StatusCompleted {
		return model.Session{}, ErrNotFound
	}
	delete(s.sessions, id)
	return *sess, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []model.Session
	for id, sess := range s.sessions {
		if sess.Status.Terminal() && sess.LastUpdated.Before(cutoff) {
			removed = append(removed, *sess)
			delete(s.sessions, id)
		}
	}
	return removed, nil
}
