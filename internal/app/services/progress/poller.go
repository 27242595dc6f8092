package progress

import (
	"context"
	"fmt"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// Poller aggregates child counts for presentation and for gating decisions.
// It is read-only and eventually consistent: two successive calls may observe
// different counts while units are being deactivated concurrently, and a unit
// may be reactivated by the CRUD surface between polls, so no monotonicity is
// assumed between reads.
type Poller struct {
	buildings storage.BuildingStore
	units     storage.UnitDirectory
	log       *logger.Logger
}

// TenantProgress summarises how far a tenant's building tree has drained.
type TenantProgress struct {
	TenantID          string             `json:"tenant_id"`
	BuildingsTotal    int                `json:"buildings_total"`
	BuildingsArchived int                `json:"buildings_archived"`
	Buildings         []BuildingProgress `json:"buildings"`
}

// BuildingProgress pairs a building's status with its live unit counts.
type BuildingProgress struct {
	BuildingID string                 `json:"building_id"`
	Name       string                 `json:"name"`
	Status     building.Status        `json:"status"`
	Targets    building.TargetsStatus `json:"targets"`
}

// New constructs a progress poller.
func New(buildings storage.BuildingStore, units storage.UnitDirectory, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("progress")
	}
	return &Poller{buildings: buildings, units: units, log: log}
}

// Building returns the live drain status for one building. The result is
// recomputed on every call and never cached beyond this request.
func (p *Poller) Building(ctx context.Context, buildingID string) (building.TargetsStatus, error) {
	if _, err := p.buildings.GetBuilding(ctx, buildingID); err != nil {
		return building.TargetsStatus{}, err
	}

	units, err := p.units.ListUnitsByBuilding(ctx, buildingID)
	if err != nil {
		return building.TargetsStatus{}, fmt.Errorf("list units for building %s: %w", buildingID, err)
	}

	inactive := 0
	for _, u := range units {
		if !u.Active {
			inactive++
		}
	}
	return building.ComputeTargets(len(units), inactive), nil
}

// Tenant aggregates building archival progress for a tenant. Unit counts are
// included per building so the UI can render "3 of 10 units remaining" rows;
// a failed unit read for one building fails the whole aggregate rather than
// reporting a partial tree as complete.
func (p *Poller) Tenant(ctx context.Context, tenantID string) (TenantProgress, error) {
	buildings, err := p.buildings.ListBuildingsByTenant(ctx, tenantID)
	if err != nil {
		return TenantProgress{}, fmt.Errorf("list buildings for tenant %s: %w", tenantID, err)
	}

	result := TenantProgress{TenantID: tenantID, BuildingsTotal: len(buildings)}
	for _, b := range buildings {
		targets, err := p.Building(ctx, b.ID)
		if err != nil {
			return TenantProgress{}, err
		}
		if b.Status == building.StatusArchived {
			result.BuildingsArchived++
		}
		result.Buildings = append(result.Buildings, BuildingProgress{
			BuildingID: b.ID,
			Name:       b.Name,
			Status:     b.Status,
			Targets:    targets,
		})
	}
	return result, nil
}
