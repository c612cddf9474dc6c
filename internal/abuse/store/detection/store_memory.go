// Package detection persists detections. Stores are pure I/O: status
// transition rules live in models.DetectionStatus and are only enforced here
// as an atomic compare-and-set on the open state.
package detection

import (
	"context"
	"sort"
	"sync"

	"warden/internal/abuse/models"
	"warden/internal/sentinel"
	"warden/pkg/platform/pagination"
)

// InMemoryDetectionStore keeps detections in maps guarded by one RWMutex.
type InMemoryDetectionStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.Detection
	byEvent map[string]string
}

func NewInMemory() *InMemoryDetectionStore {
	return &InMemoryDetectionStore{
		byID:    make(map[string]*models.Detection),
		byEvent: make(map[string]string),
	}
}

// Create stores d. A second detection for the same event returns
// sentinel.ErrAlreadyExists.
func (s *InMemoryDetectionStore) Create(_ context.Context, d *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEvent[d.EventID]; ok {
		return sentinel.ErrAlreadyExists
	}
	if _, ok := s.byID[d.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.byID[d.ID] = d.Clone()
	s.byEvent[d.EventID] = d.ID
	return nil
}

func (s *InMemoryDetectionStore) FindByID(_ context.Context, id string) (*models.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *InMemoryDetectionStore) FindByEventID(_ context.Context, eventID string) (*models.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// UpdateStatus applies u only while the detection is still open. A detection
// that has already left open returns sentinel.ErrInvalidState.
func (s *InMemoryDetectionStore) UpdateStatus(_ context.Context, u models.StatusUpdate) (*models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[u.ID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !d.Status.CanTransitionTo(u.Status) {
		return nil, sentinel.ErrInvalidState
	}
	d.Status = u.Status
	d.Reviewer = u.Reviewer
	d.Notes = u.Notes
	d.UpdatedAt = u.At
	return d.Clone(), nil
}

// List returns up to limit detections matching filter that sort after cursor,
// newest first.
func (s *InMemoryDetectionStore) List(_ context.Context, filter models.DetectionFilter, cursor *pagination.Cursor, limit int) ([]*models.Detection, error) {
	s.mu.RLock()
	matched := make([]*models.Detection, 0)
	for _, d := range s.byID {
		if filter.Matches(d) && cursor.Before(d.CreatedAt, d.ID) {
			matched = append(matched, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len returns the number of stored detections.
func (s *InMemoryDetectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
