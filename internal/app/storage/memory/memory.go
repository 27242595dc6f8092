package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
	"github.com/EstateOps/admin_core/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Conditional updates take the write lock for the whole
// compare-and-set, so the optimistic guards behave exactly like the
// conditional UPDATEs of the postgres store.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	requests  map[string]tenant.DeletionRequest
	buildings map[string]building.Building
	units     map[string]unit.Unit
	entries   []ledger.Entry
}

var _ storage.DeletionRequestStore = (*Store)(nil)
var _ storage.BuildingStore = (*Store)(nil)
var _ storage.UnitDirectory = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:    1,
		requests:  make(map[string]tenant.DeletionRequest),
		buildings: make(map[string]building.Building),
		units:     make(map[string]unit.Unit),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// DeletionRequestStore implementation -----------------------------------------

func (s *Store) CreateDeletionRequest(_ context.Context, req tenant.DeletionRequest) (tenant.DeletionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.TenantID == req.TenantID && existing.Status.Active() {
			return tenant.DeletionRequest{}, fmt.Errorf("tenant %s already has request %s in %s: %w",
				req.TenantID, existing.ID, existing.Status, storage.ErrConflict)
		}
	}

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s already exists", req.ID)
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = tenant.StatusPending
	}

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetDeletionRequest(_ context.Context, id string) (tenant.DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s: %w", id, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) ListDeletionRequests(_ context.Context, tenantID string) ([]tenant.DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.DeletionRequest, 0)
	for _, req := range s.requests {
		if tenantID == "" || req.TenantID == tenantID {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func (s *Store) ListDeletionRequestsByStatus(_ context.Context, status tenant.Status) ([]tenant.DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.DeletionRequest, 0)
	for _, req := range s.requests {
		if req.Status == status {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func (s *Store) UpdateDeletionRequestStatus(_ context.Context, id string, from, to tenant.Status, mut func(*tenant.DeletionRequest)) (tenant.DeletionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s: %w", id, storage.ErrNotFound)
	}
	if req.Status != from {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s is %s, expected %s: %w",
			id, req.Status, from, storage.ErrConflict)
	}

	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	if mut != nil {
		mut(&req)
	}
	s.requests[id] = req
	return req, nil
}

// BuildingStore implementation ------------------------------------------------

func (s *Store) CreateBuilding(_ context.Context, b building.Building) (building.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.buildings[b.ID]; exists {
		return building.Building{}, fmt.Errorf("building %s already exists", b.ID)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = building.StatusActive
	}

	s.buildings[b.ID] = b
	return b, nil
}

func (s *Store) GetBuilding(_ context.Context, id string) (building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buildings[id]
	if !ok {
		return building.Building{}, fmt.Errorf("building %s: %w", id, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBuildingsByTenant(_ context.Context, tenantID string) ([]building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]building.Building, 0)
	for _, b := range s.buildings {
		if tenantID == "" || b.TenantID == tenantID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) UpdateBuildingStatus(_ context.Context, id string, from, to building.Status) (building.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buildings[id]
	if !ok {
		return building.Building{}, fmt.Errorf("building %s: %w", id, storage.ErrNotFound)
	}
	if b.Status != from {
		return building.Building{}, fmt.Errorf("building %s is %s, expected %s: %w",
			id, b.Status, from, storage.ErrConflict)
	}

	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	s.buildings[id] = b
	return b, nil
}

// UnitDirectory implementation ------------------------------------------------

func (s *Store) ListUnitsByBuilding(_ context.Context, buildingID string) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]unit.Unit, 0)
	for _, u := range s.units {
		if u.BuildingID == buildingID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CreateUnit and SetUnitActive model the out-of-scope CRUD surface that owns
// units. They exist so tests and local seeding can drive unit state; the
// orchestrator itself only reads through UnitDirectory.

func (s *Store) CreateUnit(_ context.Context, u unit.Unit) (unit.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.units[u.ID]; exists {
		return unit.Unit{}, fmt.Errorf("unit %s already exists", u.ID)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.units[u.ID] = u
	return u, nil
}

func (s *Store) SetUnitActive(_ context.Context, id string, active bool) (unit.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return unit.Unit{}, fmt.Errorf("unit %s: %w", id, storage.ErrNotFound)
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	s.units[id] = u
	return u, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) AppendLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *Store) ListLedgerByResource(_ context.Context, kind ledger.ResourceKind, resourceID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0)
	for _, entry := range s.entries {
		if entry.ResourceKind == kind && entry.ResourceID == resourceID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) ListLedgerByTenant(_ context.Context, tenantID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0)
	for _, entry := range s.entries {
		if tenantID == "" || entry.TenantID == tenantID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

// sortRequests orders newest first, matching the postgres listing order.
func sortRequests(reqs []tenant.DeletionRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID > reqs[j].ID
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}
