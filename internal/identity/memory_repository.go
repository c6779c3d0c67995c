package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/amplio/onboard/internal/domain"
)

type memoryRepository struct {
	mu         sync.RWMutex
	identities map[string]Identity
	byContact  map[string]string
}

// NewMemoryRepository builds an in-memory identity store for tests and
// database-less development runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		identities: make(map[string]Identity),
		byContact:  make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byContact[identity.PrimaryContact]; exists {
		return ErrDuplicateContact
	}
	r.identities[identity.ID] = identity.clone()
	r.byContact[identity.PrimaryContact] = identity.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return identity.clone(), nil
}

func (r *memoryRepository) FindByContact(_ context.Context, contact string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byContact[contact]; ok {
		return r.identities[id].clone(), nil
	}
	return Identity{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, identity Identity, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.identities[identity.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := identity.clone()
	next.PrimaryContact = current.PrimaryContact
	next.Role = current.Role
	next.CreatedAt = current.CreatedAt
	next.Version = expectedVersion + 1
	r.identities[identity.ID] = next
	return nil
}

func (r *memoryRepository) ListByKYCStatus(_ context.Context, statuses []domain.KYCStatus) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[domain.KYCStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Identity
	for _, identity := range r.identities {
		if want[identity.KYC.Status] {
			out = append(out, identity.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
