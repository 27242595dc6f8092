package unit

import "time"

// Unit is a tenant-addressable space inside a building. Units are owned and
// mutated entirely by the CRUD surface; the orchestrator only reads them.
// The Active flag is the sole signal of "still occupied".
type Unit struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"building_id"`
	Number     string    `json:"number"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
