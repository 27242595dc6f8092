package transitions

import (
	"fmt"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
)

// InvalidTransitionError reports a transition the lifecycle table forbids.
type InvalidTransitionError struct {
	Kind ledger.ResourceKind
	ID   string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Kind, e.ID, e.From, e.To)
}

// PreconditionError reports a legal transition whose gate is not satisfied.
// Status carries the progress snapshot observed at the transition instant so
// callers can show how far the drain has come.
type PreconditionError struct {
	Kind    ledger.ResourceKind
	ID      string
	Status  building.TargetsStatus
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("precondition not met for %s %s: %s", e.Kind, e.ID, e.Message)
	}
	return fmt.Sprintf("precondition not met for %s %s", e.Kind, e.ID)
}

// UnauthorizedError reports an actor lacking the role for an action.
type UnauthorizedError struct {
	ActorID string
	Action  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %s is not allowed to %s", e.ActorID, e.Action)
}

// UpstreamError reports a failed read from a dependent collection. A gate
// backed by a failed read blocks the transition; it never passes it.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream read failed during %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
