package ledger

import "time"

// ResourceKind names the resource collection an entry belongs to.
type ResourceKind string

const (
	KindDeletionRequest ResourceKind = "deletion_request"
	KindBuilding        ResourceKind = "building"
)

// Entry is one durable, append-only record of a state transition. The ledger
// is the source of truth for audit and for resuming after partial failure;
// entries are written before any cascade touches children and are never
// updated or deleted.
type Entry struct {
	ID           string       `json:"id"`
	ResourceKind ResourceKind `json:"resource_kind"`
	ResourceID   string       `json:"resource_id"`
	TenantID     string       `json:"tenant_id"`
	FromState    string       `json:"from_state"`
	ToState      string       `json:"to_state"`
	ActorID      string       `json:"actor_id"`
	Reason       string       `json:"reason,omitempty"`
	RecordedAt   time.Time    `json:"recorded_at"`
}
