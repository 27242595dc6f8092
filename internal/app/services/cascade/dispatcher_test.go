package cascade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/storage/memory"
)

func TestFanOutCollectsFailuresWithoutRollback(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 5; i++ {
		b, err := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: fmt.Sprintf("B%d", i)})
		if err != nil {
			t.Fatalf("create building: %v", err)
		}
		ids = append(ids, b.ID)
	}
	failingID := ids[2]

	transition := func(ctx context.Context, buildingID string, act actor.Actor) error {
		if buildingID == failingID {
			return errors.New("downstream unavailable")
		}
		_, err := store.UpdateBuildingStatus(ctx, buildingID, building.StatusActive, building.StatusPendingDeletion)
		return err
	}

	d := New(store, transition, time.Second, nil)
	err := d.FanOutApproval(ctx, "t1", "req1")

	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if len(partial.Children) != 1 || partial.Children[0].BuildingID != failingID {
		t.Fatalf("unexpected failure set: %+v", partial.Children)
	}

	// The four successful siblings keep their new state.
	for _, id := range ids {
		b, _ := store.GetBuilding(ctx, id)
		want := building.StatusPendingDeletion
		if id == failingID {
			want = building.StatusActive
		}
		if b.Status != want {
			t.Fatalf("building %s: got %s, want %s", id, b.Status, want)
		}
	}
}

func TestFanOutRetryConverges(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 3; i++ {
		b, _ := store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: fmt.Sprintf("B%d", i)})
		ids = append(ids, b.ID)
	}

	flaky := true
	calls := 0
	transition := func(ctx context.Context, buildingID string, act actor.Actor) error {
		calls++
		if flaky && buildingID == ids[1] {
			return errors.New("transient")
		}
		_, err := store.UpdateBuildingStatus(ctx, buildingID, building.StatusActive, building.StatusPendingDeletion)
		return err
	}

	d := New(store, transition, time.Second, nil)
	if err := d.FanOutApproval(ctx, "t1", "req1"); err == nil {
		t.Fatal("expected first pass to fail partially")
	}

	flaky = false
	calls = 0
	if err := d.FanOutApproval(ctx, "t1", "req1"); err != nil {
		t.Fatalf("retry should converge: %v", err)
	}
	// Only the building that failed is dispatched again; the rest are
	// skipped as idempotent no-ops.
	if calls != 1 {
		t.Fatalf("expected 1 dispatch on retry, got %d", calls)
	}

	for _, id := range ids {
		b, _ := store.GetBuilding(ctx, id)
		if b.Status != building.StatusPendingDeletion {
			t.Fatalf("building %s not converged: %s", id, b.Status)
		}
	}
}

func TestFanOutEmptyTenant(t *testing.T) {
	store := memory.New()
	d := New(store, func(context.Context, string, actor.Actor) error {
		t.Fatal("no dispatch expected for a tenant without buildings")
		return nil
	}, time.Second, nil)

	if err := d.FanOutApproval(context.Background(), "t1", "req1"); err != nil {
		t.Fatalf("empty tenant fan-out: %v", err)
	}
}
