// Package cascade fans an approved tenant deletion out to the tenant's
// buildings. Each building is dispatched under its own timeout so that a
// single slow child cannot stall the whole pass, and failures are collected
// rather than rolled back: re-invoking the fan-out is always safe because
// buildings that already left ACTIVE are skipped.
package cascade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/metrics"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// DefaultChildTimeout bounds the transition of a single building.
const DefaultChildTimeout = 5 * time.Second

// TransitionFunc requests the PENDING_DELETION transition for one building on
// behalf of the given actor. Implementations must be idempotent.
type TransitionFunc func(ctx context.Context, buildingID string, act actor.Actor) error

// ChildError records the failure of a single building dispatch.
type ChildError struct {
	BuildingID string
	Err        error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("building %s: %v", e.BuildingID, e.Err)
}

func (e *ChildError) Unwrap() error { return e.Err }

// PartialError reports that a fan-out pass left some buildings untransitioned.
// Successful children are not rolled back; the pass can be retried.
type PartialError struct {
	TenantID string
	Children []*ChildError
}

func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Children))
	for _, c := range e.Children {
		ids = append(ids, c.BuildingID)
	}
	return fmt.Sprintf("cascade for tenant %s failed for %d building(s): %s",
		e.TenantID, len(e.Children), strings.Join(ids, ", "))
}

// Dispatcher drives the per-building fan-out of an approved deletion.
type Dispatcher struct {
	buildings    storage.BuildingStore
	transition   TransitionFunc
	childTimeout time.Duration
	log          *logger.Logger
}

// New creates a Dispatcher. The transition function is required; a
// non-positive timeout falls back to DefaultChildTimeout.
func New(buildings storage.BuildingStore, transition TransitionFunc, childTimeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("cascade")
	}
	if childTimeout <= 0 {
		childTimeout = DefaultChildTimeout
	}
	return &Dispatcher{
		buildings:    buildings,
		transition:   transition,
		childTimeout: childTimeout,
		log:          log,
	}
}

// FanOutApproval marks every ACTIVE building of the tenant PENDING_DELETION.
// Buildings already PENDING_DELETION or ARCHIVED are skipped. Failures are
// collected; on any failure the returned error is a *PartialError. The
// requestID is carried only for log correlation.
func (d *Dispatcher) FanOutApproval(ctx context.Context, tenantID, requestID string) error {
	start := time.Now()

	buildings, err := d.buildings.ListBuildingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list buildings for tenant %s: %w", tenantID, err)
	}

	var failed []*ChildError
	for _, b := range buildings {
		if b.Status != building.StatusActive {
			d.log.WithField("building_id", b.ID).
				Debugf("cascade: building already %s, skipping", b.Status)
			metrics.RecordCascadeChild("skipped")
			continue
		}

		if err := d.dispatchChild(ctx, b.ID); err != nil {
			d.log.WithError(err).WithField("building_id", b.ID).
				Warnf("cascade: building transition failed (request %s)", requestID)
			metrics.RecordCascadeChild("failed")
			failed = append(failed, &ChildError{BuildingID: b.ID, Err: err})
			continue
		}
		metrics.RecordCascadeChild("ok")
	}

	metrics.RecordCascadePass(time.Since(start))

	if len(failed) > 0 {
		return &PartialError{TenantID: tenantID, Children: failed}
	}

	d.log.WithField("tenant_id", tenantID).
		Infof("cascade: all %d building(s) dispatched for request %s", len(buildings), requestID)
	return nil
}

func (d *Dispatcher) dispatchChild(ctx context.Context, buildingID string) error {
	childCtx, cancel := context.WithTimeout(ctx, d.childTimeout)
	defer cancel()
	return d.transition(childCtx, buildingID, actor.System)
}
