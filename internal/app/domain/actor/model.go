package actor

// Role identifies what an actor is allowed to do within the deletion
// orchestrator.
type Role string

const (
	// RoleAdmin may decide deletion requests and complete any building.
	RoleAdmin Role = "admin"
	// RoleOwner may submit and cancel deletion requests for its own tenant.
	RoleOwner Role = "owner"
	// RoleOperator may complete buildings for its own tenant.
	RoleOperator Role = "operator"
	// RoleSystem is the internal actor used for cascade fan-out and the
	// reconciler's auto-completion pass.
	RoleSystem Role = "system"
)

// Actor is the acting principal for a transition. It is always passed
// explicitly; transition attribution must never come from ambient state.
type Actor struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id,omitempty"`
	Roles    []Role `json:"roles"`
}

// System is the principal recorded for orchestrator-driven transitions.
var System = Actor{ID: "system", Roles: []Role{RoleSystem}}

// HasRole reports whether the actor carries the role.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may act across tenants.
func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// IsSystem reports whether the actor is the orchestrator itself.
func (a Actor) IsSystem() bool { return a.HasRole(RoleSystem) }

// CanSubmit reports whether the actor may open a deletion request for the
// tenant.
func (a Actor) CanSubmit(tenantID string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.HasRole(RoleOwner) && a.TenantID == tenantID
}

// CanDecide reports whether the actor may approve or reject a request.
// Decisions are admin-only.
func (a Actor) CanDecide() bool { return a.IsAdmin() }

// CanCancel reports whether the actor may withdraw a pending request.
func (a Actor) CanCancel(tenantID, requestedBy string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.HasRole(RoleOwner) && a.TenantID == tenantID && a.ID == requestedBy
}

// CanComplete reports whether the actor may archive a drained building owned
// by the tenant.
func (a Actor) CanComplete(tenantID string) bool {
	if a.IsAdmin() || a.IsSystem() {
		return true
	}
	return a.HasRole(RoleOperator) && a.TenantID == tenantID
}
