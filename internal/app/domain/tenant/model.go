package tenant

import "time"

// Status is the lifecycle state of a deletion request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Active reports whether the request still blocks a new submission for the
// same tenant.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Valid reports whether the string names a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Tenant is the owning organisation whose resource tree a deletion request
// drains.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeletionRequest is the tenant-scoped root of a cascading deletion. It is
// created by a tenant owner, decided by an admin, and completed by the
// orchestrator once every building owned by the tenant is archived.
type DeletionRequest struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	RequestedBy     string     `json:"requested_by"`
	Reason          string     `json:"reason"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}
