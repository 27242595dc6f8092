package building

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a building within the deletion cascade.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusPendingDeletion Status = "PENDING_DELETION"
	StatusArchived        Status = "ARCHIVED"
)

// Terminal reports whether the building has reached its final state.
func (s Status) Terminal() bool { return s == StatusArchived }

// Valid reports whether the string names a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPendingDeletion, StatusArchived:
		return true
	}
	return false
}

// Building belongs to exactly one tenant. Archival means status transition,
// never row removal.
type Building struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetsStatus is the derived drain progress of a building. It is recomputed
// from live unit reads on every evaluation and never stored.
type TargetsStatus struct {
	TotalUnits    int  `json:"total_units"`
	InactiveUnits int  `json:"inactive_units"`
	UnitsReady    bool `json:"units_ready"`
}

// Remaining is the number of units still active.
func (t TargetsStatus) Remaining() int { return t.TotalUnits - t.InactiveUnits }

// Message renders the progress for display, e.g. "3 of 10 units still active".
func (t TargetsStatus) Message() string {
	if t.UnitsReady {
		return "all units inactive"
	}
	return fmt.Sprintf("%d of %d units still active", t.Remaining(), t.TotalUnits)
}

// ComputeTargets derives the drain status from live unit counts. An empty
// building is immediately ready.
func ComputeTargets(total, inactive int) TargetsStatus {
	ready := true
	if total > 0 {
		ready = inactive == total
	}
	return TargetsStatus{TotalUnits: total, InactiveUnits: inactive, UnitsReady: ready}
}
