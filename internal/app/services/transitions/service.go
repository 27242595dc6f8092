// Package transitions is the single mutation entry point for deletion
// requests and buildings. Every state change flows through RequestTransition:
// it authorizes the actor, applies the lifecycle table, re-checks the gate at
// the transition instant, serializes the write with an optimistic guard, and
// records the change in the append-only ledger before returning.
package transitions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/metrics"
	"github.com/EstateOps/admin_core/internal/app/services/gate"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// Dispatcher fans an approved deletion out to the tenant's buildings. It is
// attached after construction because the dispatcher itself transitions
// buildings through this service.
type Dispatcher interface {
	FanOutApproval(ctx context.Context, tenantID, requestID string) error
}

// Service owns all lifecycle mutations.
type Service struct {
	requests   storage.DeletionRequestStore
	buildings  storage.BuildingStore
	ledger     storage.LedgerStore
	gate       *gate.Evaluator
	dispatcher Dispatcher
	log        *logger.Logger
}

// New creates the transition engine. The cascade dispatcher is wired in later
// via AttachDispatcher.
func New(requests storage.DeletionRequestStore, buildings storage.BuildingStore, ledgerStore storage.LedgerStore, gateEval *gate.Evaluator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transitions")
	}
	return &Service{
		requests:  requests,
		buildings: buildings,
		ledger:    ledgerStore,
		gate:      gateEval,
		log:       log,
	}
}

// AttachDispatcher wires the cascade dispatcher used on approval.
func (s *Service) AttachDispatcher(d Dispatcher) { s.dispatcher = d }

// RequestTransition moves the identified resource to the target state on
// behalf of the actor. Requesting the state the resource is already in is an
// idempotent success and writes no ledger entry. The returned string is the
// state the resource holds after the call.
func (s *Service) RequestTransition(ctx context.Context, kind ledger.ResourceKind, id, target string, act actor.Actor, reason string) (string, error) {
	switch kind {
	case ledger.KindDeletionRequest:
		return s.transitionRequest(ctx, id, tenant.Status(target), act, reason)
	case ledger.KindBuilding:
		return s.transitionBuilding(ctx, id, building.Status(target), act, reason)
	default:
		return "", fmt.Errorf("unknown resource kind %q", kind)
	}
}

// requestTargets maps a deletion-request state to the states it may move to.
var requestTargets = map[tenant.Status][]tenant.Status{
	tenant.StatusPending:  {tenant.StatusApproved, tenant.StatusRejected, tenant.StatusCanceled},
	tenant.StatusApproved: {tenant.StatusCompleted},
}

// buildingTargets maps a building state to the states it may move to.
var buildingTargets = map[building.Status][]building.Status{
	building.StatusActive:          {building.StatusPendingDeletion},
	building.StatusPendingDeletion: {building.StatusArchived},
}

func (s *Service) transitionRequest(ctx context.Context, id string, target tenant.Status, act actor.Actor, reason string) (string, error) {
	const resource = "deletion_request"

	req, err := s.requests.GetDeletionRequest(ctx, id)
	if err != nil {
		return "", err
	}

	if err := authorizeRequestTransition(req, target, act); err != nil {
		metrics.RecordTransition(resource, string(target), "unauthorized")
		return "", err
	}

	// Re-requesting the current state is a success with no ledger entry.
	if req.Status == target {
		metrics.RecordTransition(resource, string(target), "idempotent")
		return string(target), nil
	}

	if !legalRequestTransition(req.Status, target) {
		metrics.RecordTransition(resource, string(target), "invalid")
		return "", &InvalidTransitionError{
			Kind: ledger.KindDeletionRequest,
			ID:   id,
			From: string(req.Status),
			To:   string(target),
		}
	}

	// Completion is gated on every building being archived, read live at
	// this instant.
	if target == tenant.StatusCompleted {
		ready, err := s.gate.TenantReady(ctx, req.TenantID)
		if err != nil {
			metrics.RecordTransition(resource, string(target), "error")
			return "", &UpstreamError{Op: "tenant readiness check", Err: err}
		}
		if !ready {
			metrics.RecordTransition(resource, string(target), "blocked")
			return "", &PreconditionError{
				Kind:    ledger.KindDeletionRequest,
				ID:      id,
				Message: fmt.Sprintf("tenant %s still has buildings that are not archived", req.TenantID),
			}
		}
	}

	from := req.Status
	updated, err := s.requests.UpdateDeletionRequestStatus(ctx, id, from, target, requestMutation(target, act, reason))
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return s.resolveRequestConflict(ctx, id, target)
		}
		metrics.RecordTransition(resource, string(target), "error")
		return "", err
	}

	if err := s.record(ctx, ledger.KindDeletionRequest, id, updated.TenantID, string(from), string(target), act, reason); err != nil {
		return string(target), err
	}
	metrics.RecordTransition(resource, string(target), "ok")

	s.log.WithField("request_id", id).
		Infof("deletion request %s -> %s by %s", from, target, act.ID)

	if target == tenant.StatusApproved && s.dispatcher != nil {
		if err := s.dispatcher.FanOutApproval(ctx, updated.TenantID, id); err != nil {
			// The approval itself stands; unreached buildings are the
			// reconciler's to retry.
			return string(target), err
		}
	}
	return string(target), nil
}

func (s *Service) transitionBuilding(ctx context.Context, id string, target building.Status, act actor.Actor, reason string) (string, error) {
	const resource = "building"

	b, err := s.buildings.GetBuilding(ctx, id)
	if err != nil {
		return "", err
	}

	if !act.CanComplete(b.TenantID) {
		metrics.RecordTransition(resource, string(target), "unauthorized")
		return "", &UnauthorizedError{ActorID: act.ID, Action: fmt.Sprintf("transition building %s", id)}
	}

	if b.Status == target {
		metrics.RecordTransition(resource, string(target), "idempotent")
		return string(target), nil
	}

	if !legalBuildingTransition(b.Status, target) {
		metrics.RecordTransition(resource, string(target), "invalid")
		return "", &InvalidTransitionError{
			Kind: ledger.KindBuilding,
			ID:   id,
			From: string(b.Status),
			To:   string(target),
		}
	}

	// Archiving requires every unit inactive, read live at this instant. A
	// failed read blocks the gate rather than passing it.
	if target == building.StatusArchived {
		status, err := s.gate.Evaluate(ctx, id)
		if err != nil {
			metrics.RecordTransition(resource, string(target), "error")
			return "", &UpstreamError{Op: "unit drain check", Err: err}
		}
		if !status.UnitsReady {
			metrics.RecordTransition(resource, string(target), "blocked")
			return "", &PreconditionError{
				Kind:    ledger.KindBuilding,
				ID:      id,
				Status:  status,
				Message: status.Message(),
			}
		}
	}

	from := b.Status
	updated, err := s.buildings.UpdateBuildingStatus(ctx, id, from, target)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return s.resolveBuildingConflict(ctx, id, target)
		}
		metrics.RecordTransition(resource, string(target), "error")
		return "", err
	}

	if err := s.record(ctx, ledger.KindBuilding, id, updated.TenantID, string(from), string(target), act, reason); err != nil {
		return string(target), err
	}
	metrics.RecordTransition(resource, string(target), "ok")

	s.log.WithField("building_id", id).
		Infof("building %s -> %s by %s", from, target, act.ID)
	return string(target), nil
}

// resolveRequestConflict re-reads after a lost optimistic race. A concurrent
// writer that reached the same target makes this call an idempotent success.
func (s *Service) resolveRequestConflict(ctx context.Context, id string, target tenant.Status) (string, error) {
	req, err := s.requests.GetDeletionRequest(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status == target {
		metrics.RecordTransition("deletion_request", string(target), "idempotent")
		return string(target), nil
	}
	metrics.RecordTransition("deletion_request", string(target), "invalid")
	return "", &InvalidTransitionError{
		Kind: ledger.KindDeletionRequest,
		ID:   id,
		From: string(req.Status),
		To:   string(target),
	}
}

func (s *Service) resolveBuildingConflict(ctx context.Context, id string, target building.Status) (string, error) {
	b, err := s.buildings.GetBuilding(ctx, id)
	if err != nil {
		return "", err
	}
	if b.Status == target {
		metrics.RecordTransition("building", string(target), "idempotent")
		return string(target), nil
	}
	metrics.RecordTransition("building", string(target), "invalid")
	return "", &InvalidTransitionError{
		Kind: ledger.KindBuilding,
		ID:   id,
		From: string(b.Status),
		To:   string(target),
	}
}

func (s *Service) record(ctx context.Context, kind ledger.ResourceKind, resourceID, tenantID, from, to string, act actor.Actor, reason string) error {
	_, err := s.ledger.AppendLedgerEntry(ctx, ledger.Entry{
		ResourceKind: kind,
		ResourceID:   resourceID,
		TenantID:     tenantID,
		FromState:    from,
		ToState:      to,
		ActorID:      act.ID,
		Reason:       reason,
		RecordedAt:   time.Now().UTC(),
	})
	if err != nil {
		s.log.WithError(err).Errorf("ledger append failed for %s %s", kind, resourceID)
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// requestMutation stamps decision attribution alongside the status change.
// Only decisions carry attribution; cancellation and completion leave the
// fields untouched.
func requestMutation(target tenant.Status, act actor.Actor, reason string) func(*tenant.DeletionRequest) {
	return func(req *tenant.DeletionRequest) {
		switch target {
		case tenant.StatusApproved, tenant.StatusRejected:
			now := time.Now().UTC()
			req.DecidedBy = act.ID
			req.DecidedAt = &now
			if target == tenant.StatusRejected {
				req.RejectionReason = reason
			}
		}
	}
}

func authorizeRequestTransition(req tenant.DeletionRequest, target tenant.Status, act actor.Actor) error {
	switch target {
	case tenant.StatusApproved, tenant.StatusRejected:
		if !act.CanDecide() {
			return &UnauthorizedError{ActorID: act.ID, Action: "decide deletion requests"}
		}
	case tenant.StatusCanceled:
		if !act.CanCancel(req.TenantID, req.RequestedBy) {
			return &UnauthorizedError{ActorID: act.ID, Action: fmt.Sprintf("cancel deletion request %s", req.ID)}
		}
	case tenant.StatusCompleted:
		if !act.CanComplete(req.TenantID) {
			return &UnauthorizedError{ActorID: act.ID, Action: fmt.Sprintf("complete deletion request %s", req.ID)}
		}
	default:
		return &InvalidTransitionError{
			Kind: ledger.KindDeletionRequest,
			ID:   req.ID,
			From: string(req.Status),
			To:   string(target),
		}
	}
	return nil
}

func legalRequestTransition(from, to tenant.Status) bool {
	for _, t := range requestTargets[from] {
		if t == to {
			return true
		}
	}
	return false
}

func legalBuildingTransition(from, to building.Status) bool {
	for _, t := range buildingTargets[from] {
		if t == to {
			return true
		}
	}
	return false
}
