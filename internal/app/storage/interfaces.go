package storage

import (
	"context"
	"errors"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a failed conditional update: the record's current state
// no longer matches the guard the caller observed. Callers re-read and decide
// whether the target was already reached.
var ErrConflict = errors.New("conflict")

// DeletionRequestStore persists tenant-level deletion requests.
//
// Create enforces the single-active-request invariant: at most one request in
// PENDING or APPROVED may exist per tenant, and a violating create fails with
// ErrConflict.
type DeletionRequestStore interface {
	CreateDeletionRequest(ctx context.Context, req tenant.DeletionRequest) (tenant.DeletionRequest, error)
	GetDeletionRequest(ctx context.Context, id string) (tenant.DeletionRequest, error)
	// ListDeletionRequests returns the tenant's requests, newest first. An
	// empty tenantID lists across all tenants.
	ListDeletionRequests(ctx context.Context, tenantID string) ([]tenant.DeletionRequest, error)
	ListDeletionRequestsByStatus(ctx context.Context, status tenant.Status) ([]tenant.DeletionRequest, error)

	// UpdateDeletionRequestStatus applies mut and moves the request from
	// `from` to `to` only if its stored status still equals `from`
	// (optimistic guard). A stale guard fails with ErrConflict and leaves
	// the record untouched.
	UpdateDeletionRequestStatus(ctx context.Context, id string, from, to tenant.Status, mut func(*tenant.DeletionRequest)) (tenant.DeletionRequest, error)
}

// BuildingStore persists buildings.
type BuildingStore interface {
	CreateBuilding(ctx context.Context, b building.Building) (building.Building, error)
	GetBuilding(ctx context.Context, id string) (building.Building, error)
	ListBuildingsByTenant(ctx context.Context, tenantID string) ([]building.Building, error)

	// UpdateBuildingStatus is the conditional counterpart for buildings;
	// same ErrConflict semantics as deletion requests.
	UpdateBuildingStatus(ctx context.Context, id string, from, to building.Status) (building.Building, error)
}

// UnitDirectory is the read-only view of the externally-owned unit
// collection. The orchestrator never mutates units through this interface.
type UnitDirectory interface {
	ListUnitsByBuilding(ctx context.Context, buildingID string) ([]unit.Unit, error)
}

// LedgerStore persists the append-only transition history.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
	ListLedgerByResource(ctx context.Context, kind ledger.ResourceKind, resourceID string) ([]ledger.Entry, error)
	ListLedgerByTenant(ctx context.Context, tenantID string) ([]ledger.Entry, error)
}
