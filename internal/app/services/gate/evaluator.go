package gate

import (
	"context"
	"fmt"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/metrics"
	"github.com/EstateOps/admin_core/internal/app/services/progress"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// Evaluator computes whether a parent resource's children satisfy the
// precondition for the parent's next transition. Every evaluation reads live
// state; nothing is cached across calls, since a stale positive would let a
// building archive while units are still active.
type Evaluator struct {
	buildings storage.BuildingStore
	poller    *progress.Poller
	log       *logger.Logger
}

// New constructs a gate evaluator over the progress poller's reads.
func New(buildings storage.BuildingStore, poller *progress.Poller, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewDefault("gate")
	}
	return &Evaluator{buildings: buildings, poller: poller, log: log}
}

// Evaluate returns the live drain status for a building. A failed unit read
// is returned as an error, never as a satisfied gate.
func (e *Evaluator) Evaluate(ctx context.Context, buildingID string) (building.TargetsStatus, error) {
	status, err := e.poller.Building(ctx, buildingID)
	if err != nil {
		return building.TargetsStatus{}, err
	}
	metrics.RecordGateEvaluation(status.UnitsReady)
	return status, nil
}

// TenantReady reports whether every building owned by the tenant is archived.
// A tenant with no buildings is ready immediately.
func (e *Evaluator) TenantReady(ctx context.Context, tenantID string) (bool, error) {
	buildings, err := e.buildings.ListBuildingsByTenant(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("list buildings for tenant %s: %w", tenantID, err)
	}
	for _, b := range buildings {
		if b.Status != building.StatusArchived {
			return false, nil
		}
	}
	return true, nil
}
