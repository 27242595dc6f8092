package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
	"github.com/EstateOps/admin_core/internal/app/storage"
)

func TestSingleActiveRequestPerTenant(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if _, err := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "bob"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for second active request, got %v", err)
	}

	// An APPROVED request still blocks new submissions.
	if _, err := store.UpdateDeletionRequestStatus(ctx, first.ID, tenant.StatusPending, tenant.StatusApproved, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "bob"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict while approved, got %v", err)
	}

	// A terminal request frees the slot.
	if _, err := store.UpdateDeletionRequestStatus(ctx, first.ID, tenant.StatusApproved, tenant.StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "bob"}); err != nil {
		t.Fatalf("expected new request after completion, got %v", err)
	}
}

func TestUpdateDeletionRequestStatusGuard(t *testing.T) {
	store := New()
	ctx := context.Background()

	req, err := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	// Stale guard loses.
	if _, err := store.UpdateDeletionRequestStatus(ctx, req.ID, tenant.StatusApproved, tenant.StatusCompleted, nil); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for stale guard, got %v", err)
	}

	updated, err := store.UpdateDeletionRequestStatus(ctx, req.ID, tenant.StatusPending, tenant.StatusRejected, func(r *tenant.DeletionRequest) {
		r.DecidedBy = "root"
		r.RejectionReason = "not yet"
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != tenant.StatusRejected || updated.DecidedBy != "root" || updated.RejectionReason != "not yet" {
		t.Fatalf("mutation not applied: %+v", updated)
	}

	if _, err := store.UpdateDeletionRequestStatus(ctx, "missing", tenant.StatusPending, tenant.StatusApproved, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateBuildingStatusGuard(t *testing.T) {
	store := New()
	ctx := context.Background()

	b, err := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "North Tower"})
	if err != nil {
		t.Fatalf("create building: %v", err)
	}
	if b.Status != building.StatusActive {
		t.Fatalf("expected new building ACTIVE, got %s", b.Status)
	}

	if _, err := store.UpdateBuildingStatus(ctx, b.ID, building.StatusPendingDeletion, building.StatusArchived); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for stale guard, got %v", err)
	}

	moved, err := store.UpdateBuildingStatus(ctx, b.ID, building.StatusActive, building.StatusPendingDeletion)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if moved.Status != building.StatusPendingDeletion {
		t.Fatalf("expected PENDING_DELETION, got %s", moved.Status)
	}
}

func TestUnitDirectory(t *testing.T) {
	store := New()
	ctx := context.Background()

	b, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "Annex"})
	u1, _ := store.CreateUnit(ctx, unit.Unit{BuildingID: b.ID, Number: "101", Active: true})
	store.CreateUnit(ctx, unit.Unit{BuildingID: b.ID, Number: "102", Active: true})
	store.CreateUnit(ctx, unit.Unit{BuildingID: "other", Number: "201", Active: true})

	units, err := store.ListUnitsByBuilding(ctx, b.ID)
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}

	if _, err := store.SetUnitActive(ctx, u1.ID, false); err != nil {
		t.Fatalf("deactivate unit: %v", err)
	}
	units, _ = store.ListUnitsByBuilding(ctx, b.ID)
	inactive := 0
	for _, u := range units {
		if !u.Active {
			inactive++
		}
	}
	if inactive != 1 {
		t.Fatalf("expected 1 inactive unit, got %d", inactive)
	}
}

func TestLedgerAppendAndList(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, e := range []ledger.Entry{
		{ResourceKind: ledger.KindDeletionRequest, ResourceID: "r1", TenantID: "t1", FromState: "PENDING", ToState: "APPROVED", ActorID: "root"},
		{ResourceKind: ledger.KindBuilding, ResourceID: "b1", TenantID: "t1", FromState: "ACTIVE", ToState: "PENDING_DELETION", ActorID: "system"},
		{ResourceKind: ledger.KindBuilding, ResourceID: "b9", TenantID: "t2", FromState: "ACTIVE", ToState: "PENDING_DELETION", ActorID: "system"},
	} {
		if _, err := store.AppendLedgerEntry(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byResource, err := store.ListLedgerByResource(ctx, ledger.KindBuilding, "b1")
	if err != nil {
		t.Fatalf("list by resource: %v", err)
	}
	if len(byResource) != 1 || byResource[0].ToState != "PENDING_DELETION" {
		t.Fatalf("unexpected entries: %+v", byResource)
	}

	byTenant, err := store.ListLedgerByTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("expected 2 entries for t1, got %d", len(byTenant))
	}
}

func TestListDeletionRequestsNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, _ := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t1", RequestedBy: "alice"})
	second, _ := store.CreateDeletionRequest(ctx, tenant.DeletionRequest{TenantID: "t2", RequestedBy: "bob"})

	all, err := store.ListDeletionRequests(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(all))
	}
	if all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("expected newest first, got [%s %s]", all[0].ID, all[1].ID)
	}
}
