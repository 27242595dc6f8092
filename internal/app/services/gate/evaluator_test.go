package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
	"github.com/EstateOps/admin_core/internal/app/services/progress"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/internal/app/storage/memory"
)

func newEvaluator(store *memory.Store) *Evaluator {
	return New(store, progress.New(store, store, nil), nil)
}

func TestEvaluateEmptyBuildingIsReady(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	b, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "Empty Lot"})

	status, err := newEvaluator(store).Evaluate(ctx, b.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !status.UnitsReady {
		t.Fatal("building with zero units should be ready immediately")
	}
}

func TestEvaluateCountsLiveUnits(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	b, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "North Tower"})
	u1, _ := store.CreateUnit(ctx, unit.Unit{BuildingID: b.ID, Number: "101", Active: true})
	u2, _ := store.CreateUnit(ctx, unit.Unit{BuildingID: b.ID, Number: "102", Active: true})

	ev := newEvaluator(store)

	status, err := ev.Evaluate(ctx, b.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status.UnitsReady || status.InactiveUnits != 0 {
		t.Fatalf("expected not ready with 2 active units: %+v", status)
	}

	// No caching: the next evaluation must observe the deactivations.
	store.SetUnitActive(ctx, u1.ID, false)
	store.SetUnitActive(ctx, u2.ID, false)

	status, err = ev.Evaluate(ctx, b.ID)
	if err != nil {
		t.Fatalf("evaluate after drain: %v", err)
	}
	if !status.UnitsReady || status.InactiveUnits != 2 {
		t.Fatalf("expected ready after drain: %+v", status)
	}
}

type failingUnits struct {
	storage.UnitDirectory
}

func (failingUnits) ListUnitsByBuilding(context.Context, string) ([]unit.Unit, error) {
	return nil, errors.New("directory unavailable")
}

func TestEvaluateFailedReadBlocks(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	b, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "North Tower"})

	ev := New(store, progress.New(store, failingUnits{}, nil), nil)
	if _, err := ev.Evaluate(ctx, b.ID); err == nil {
		t.Fatal("expected error when the unit read fails")
	}
}

func TestTenantReady(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ev := newEvaluator(store)

	// No buildings: immediately ready.
	ready, err := ev.TenantReady(ctx, "t1")
	if err != nil {
		t.Fatalf("tenant ready: %v", err)
	}
	if !ready {
		t.Fatal("tenant without buildings should be ready")
	}

	b1, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "A"})
	b2, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "B"})

	ready, _ = ev.TenantReady(ctx, "t1")
	if ready {
		t.Fatal("tenant with ACTIVE buildings must not be ready")
	}

	store.UpdateBuildingStatus(ctx, b1.ID, building.StatusActive, building.StatusPendingDeletion)
	store.UpdateBuildingStatus(ctx, b1.ID, building.StatusPendingDeletion, building.StatusArchived)
	store.UpdateBuildingStatus(ctx, b2.ID, building.StatusActive, building.StatusPendingDeletion)

	ready, _ = ev.TenantReady(ctx, "t1")
	if ready {
		t.Fatal("PENDING_DELETION building must block tenant readiness")
	}

	store.UpdateBuildingStatus(ctx, b2.ID, building.StatusPendingDeletion, building.StatusArchived)
	ready, _ = ev.TenantReady(ctx, "t1")
	if !ready {
		t.Fatal("tenant with all buildings archived should be ready")
	}
}
