// Package registry holds the disaster and resource records the coordinators
// reconcile ledger and device outcomes into. Persistence backends implement
// Store; the in-memory implementation here is the default and the reference
// for tests.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/reliefops/aidchain/core/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract for disaster and resource records.
type Store interface {
	PutDisaster(model.Disaster) error
	GetDisaster(id string) (model.Disaster, error)
	PutResource(model.Resource) error
	GetResource(id string) (model.Resource, error)
	ListResources() ([]model.Resource, error)

	// FindAllocatable returns the resources of the given type that are
	// either still available or already assigned to the disaster. The
	// allocation coordinator uses it for the idempotency check.
	FindAllocatable(disasterID string, rt model.ResourceType) ([]model.Resource, error)
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	disasters map[string]model.Disaster
	resources map[string]model.Resource
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disasters: map[string]model.Disaster{},
		resources: map[string]model.Resource{},
	}
}

func (s *MemoryStore) PutDisaster(d model.Disaster) error {
	s.mu.Lock()
	s.disasters[d.ID] = d
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDisaster(id string) (model.Disaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disasters[id]
	if !ok {
		return model.Disaster{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) PutResource(r model.Resource) error {
	s.mu.Lock()
	s.resources[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetResource(id string) (model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return model.Resource{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListResources() ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindAllocatable(disasterID string, rt model.ResourceType) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Resource
	for _, r := range s.resources {
		if r.Type != rt {
			continue
		}
		if r.Status == model.StatusAvailable || r.AssignedDisaster == disasterID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
