// Package requests is the admin-facing façade over the deletion-request
// lifecycle. It owns submission and the single-active-request rule, routes
// every decision through the transition engine, and drives the completion
// check that closes an approved request once the tenant's buildings are all
// archived.
package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/services/cascade"
	"github.com/EstateOps/admin_core/internal/app/services/gate"
	"github.com/EstateOps/admin_core/internal/app/services/transitions"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// ListScope selects whose requests a listing returns.
type ListScope string

const (
	// ScopeMine lists the caller's own tenant.
	ScopeMine ListScope = "mine"
	// ScopeAll lists across tenants. Non-admin callers are clamped to
	// ScopeMine.
	ScopeAll ListScope = "all"
)

// Service coordinates the deletion-request lifecycle.
type Service struct {
	store     storage.DeletionRequestStore
	buildings storage.BuildingStore
	ledger    storage.LedgerStore
	engine    *transitions.Service
	gate      *gate.Evaluator
	fanOut    transitions.Dispatcher
	log       *logger.Logger
}

// New creates the façade. The fan-out dispatcher powers Reconcile's retry
// pass; decisions trigger fan-out inside the engine itself.
func New(store storage.DeletionRequestStore, buildings storage.BuildingStore, ledgerStore storage.LedgerStore, engine *transitions.Service, gateEval *gate.Evaluator, fanOut transitions.Dispatcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	return &Service{
		store:     store,
		buildings: buildings,
		ledger:    ledgerStore,
		engine:    engine,
		gate:      gateEval,
		fanOut:    fanOut,
		log:       log,
	}
}

// Submit opens a PENDING deletion request for the tenant. While the tenant
// already has a PENDING or APPROVED request the store rejects the create with
// storage.ErrConflict.
func (s *Service) Submit(ctx context.Context, act actor.Actor, tenantID, reason string) (tenant.DeletionRequest, error) {
	if !act.CanSubmit(tenantID) {
		return tenant.DeletionRequest{}, &transitions.UnauthorizedError{
			ActorID: act.ID,
			Action:  fmt.Sprintf("submit a deletion request for tenant %s", tenantID),
		}
	}

	req, err := s.store.CreateDeletionRequest(ctx, tenant.DeletionRequest{
		TenantID:    tenantID,
		RequestedBy: act.ID,
		Reason:      reason,
		Status:      tenant.StatusPending,
	})
	if err != nil {
		return tenant.DeletionRequest{}, err
	}

	// Submission is audited like any other lifecycle event.
	if _, err := s.ledger.AppendLedgerEntry(ctx, ledger.Entry{
		ResourceKind: ledger.KindDeletionRequest,
		ResourceID:   req.ID,
		TenantID:     tenantID,
		FromState:    "",
		ToState:      string(tenant.StatusPending),
		ActorID:      act.ID,
		Reason:       reason,
		RecordedAt:   time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).Errorf("ledger append failed for submitted request %s", req.ID)
	}

	s.log.WithField("tenant_id", tenantID).
		Infof("deletion request %s submitted by %s", req.ID, act.ID)
	return req, nil
}

// Decide approves or rejects a pending request. Approval triggers the
// building fan-out; when some buildings fail to transition, the approved
// request is returned together with the partial-failure error so the caller
// can report both.
func (s *Service) Decide(ctx context.Context, act actor.Actor, id string, approve bool, rejectionReason string) (tenant.DeletionRequest, error) {
	target := tenant.StatusApproved
	reason := ""
	if !approve {
		target = tenant.StatusRejected
		reason = rejectionReason
	}

	_, terr := s.engine.RequestTransition(ctx, ledger.KindDeletionRequest, id, string(target), act, reason)
	if terr != nil && !isPartialCascade(terr) {
		return tenant.DeletionRequest{}, terr
	}

	req, err := s.store.GetDeletionRequest(ctx, id)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	return req, terr
}

// Cancel withdraws a pending request. Only the requester or an admin may
// cancel.
func (s *Service) Cancel(ctx context.Context, act actor.Actor, id string) (tenant.DeletionRequest, error) {
	if _, err := s.engine.RequestTransition(ctx, ledger.KindDeletionRequest, id, string(tenant.StatusCanceled), act, ""); err != nil {
		return tenant.DeletionRequest{}, err
	}
	return s.store.GetDeletionRequest(ctx, id)
}

// Get returns one request. Non-admin callers only see their own tenant.
func (s *Service) Get(ctx context.Context, act actor.Actor, id string) (tenant.DeletionRequest, error) {
	req, err := s.store.GetDeletionRequest(ctx, id)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	if !act.IsAdmin() && !act.IsSystem() && act.TenantID != req.TenantID {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s: %w", id, storage.ErrNotFound)
	}
	return req, nil
}

// List returns requests in scope. ScopeAll is admin-only; everyone else is
// clamped to their own tenant.
func (s *Service) List(ctx context.Context, act actor.Actor, scope ListScope) ([]tenant.DeletionRequest, error) {
	if scope == ScopeAll && act.IsAdmin() {
		return s.store.ListDeletionRequests(ctx, "")
	}
	return s.store.ListDeletionRequests(ctx, act.TenantID)
}

// CheckCompletion closes the request if it is APPROVED and every building of
// the tenant is archived. It re-reads the gate at call time and is safe to
// call from any read path.
func (s *Service) CheckCompletion(ctx context.Context, id string) (tenant.DeletionRequest, error) {
	req, err := s.store.GetDeletionRequest(ctx, id)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	if req.Status != tenant.StatusApproved {
		return req, nil
	}

	ready, err := s.gate.TenantReady(ctx, req.TenantID)
	if err != nil {
		return req, fmt.Errorf("completion check for request %s: %w", id, err)
	}
	if !ready {
		return req, nil
	}

	if _, err := s.engine.RequestTransition(ctx, ledger.KindDeletionRequest, id, string(tenant.StatusCompleted), actor.System, "all buildings archived"); err != nil {
		return req, err
	}
	return s.store.GetDeletionRequest(ctx, id)
}

// Reconcile converges one approved request: it re-runs the fan-out for
// buildings still ACTIVE, archives drained PENDING_DELETION buildings, and
// then attempts completion. Gate misses are not failures, only progress that
// has not happened yet.
func (s *Service) Reconcile(ctx context.Context, id string) (tenant.DeletionRequest, error) {
	req, err := s.store.GetDeletionRequest(ctx, id)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	if req.Status != tenant.StatusApproved {
		return req, nil
	}

	if err := s.fanOut.FanOutApproval(ctx, req.TenantID, id); err != nil {
		return req, err
	}

	if err := s.archiveDrained(ctx, req.TenantID); err != nil {
		return req, err
	}

	return s.CheckCompletion(ctx, id)
}

// archiveDrained attempts PENDING_DELETION -> ARCHIVED for every building of
// the tenant whose units have all gone inactive.
func (s *Service) archiveDrained(ctx context.Context, tenantID string) error {
	all, err := s.buildings.ListBuildingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list buildings for tenant %s: %w", tenantID, err)
	}
	for _, b := range all {
		if b.Status != building.StatusPendingDeletion {
			continue
		}
		_, err := s.engine.RequestTransition(ctx, ledger.KindBuilding, b.ID, string(building.StatusArchived), actor.System, "units drained")
		if err != nil {
			var pre *transitions.PreconditionError
			if errors.As(err, &pre) {
				continue // still draining
			}
			return err
		}
	}
	return nil
}

func isPartialCascade(err error) bool {
	var partial *cascade.PartialError
	return errors.As(err, &partial)
}
