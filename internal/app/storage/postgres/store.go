// Package postgres implements the storage interfaces on PostgreSQL. Status
// changes are conditional UPDATEs guarded by the expected current status,
// which gives the same optimistic semantics as the in-memory store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
	"github.com/EstateOps/admin_core/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.DeletionRequestStore = (*Store)(nil)
var _ storage.BuildingStore = (*Store)(nil)
var _ storage.UnitDirectory = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// requestRow mirrors the deletion_requests table.
type requestRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	RequestedBy     string         `db:"requested_by"`
	Reason          string         `db:"reason"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	DecidedBy       sql.NullString `db:"decided_by"`
	DecidedAt       sql.NullTime   `db:"decided_at"`
	RejectionReason sql.NullString `db:"rejection_reason"`
}

func (r requestRow) toDomain() tenant.DeletionRequest {
	req := tenant.DeletionRequest{
		ID:          r.ID,
		TenantID:    r.TenantID,
		RequestedBy: r.RequestedBy,
		Reason:      r.Reason,
		Status:      tenant.Status(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DecidedBy.Valid {
		req.DecidedBy = r.DecidedBy.String
	}
	if r.DecidedAt.Valid {
		t := r.DecidedAt.Time
		req.DecidedAt = &t
	}
	if r.RejectionReason.Valid {
		req.RejectionReason = r.RejectionReason.String
	}
	return req
}

// DeletionRequestStore implementation -----------------------------------------

func (s *Store) CreateDeletionRequest(ctx context.Context, req tenant.DeletionRequest) (tenant.DeletionRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = tenant.StatusPending
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deletion_requests (id, tenant_id, requested_by, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.TenantID, req.RequestedBy, req.Reason, string(req.Status), req.CreatedAt, req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return tenant.DeletionRequest{}, fmt.Errorf("tenant %s already has an active deletion request: %w",
				req.TenantID, storage.ErrConflict)
		}
		return tenant.DeletionRequest{}, err
	}
	return req, nil
}

func (s *Store) GetDeletionRequest(ctx context.Context, id string) (tenant.DeletionRequest, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, requested_by, reason, status, created_at, updated_at,
		       decided_by, decided_at, rejection_reason
		FROM deletion_requests
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListDeletionRequests(ctx context.Context, tenantID string) ([]tenant.DeletionRequest, error) {
	query := `
		SELECT id, tenant_id, requested_by, reason, status, created_at, updated_at,
		       decided_by, decided_at, rejection_reason
		FROM deletion_requests
	`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]tenant.DeletionRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListDeletionRequestsByStatus(ctx context.Context, status tenant.Status) ([]tenant.DeletionRequest, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, requested_by, reason, status, created_at, updated_at,
		       decided_by, decided_at, rejection_reason
		FROM deletion_requests
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
	`, string(status))
	if err != nil {
		return nil, err
	}
	out := make([]tenant.DeletionRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateDeletionRequestStatus(ctx context.Context, id string, from, to tenant.Status, mut func(*tenant.DeletionRequest)) (tenant.DeletionRequest, error) {
	req, err := s.GetDeletionRequest(ctx, id)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	if req.Status != from {
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s is %s, expected %s: %w",
			id, req.Status, from, storage.ErrConflict)
	}

	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	if mut != nil {
		mut(&req)
	}

	var decidedBy, rejection sql.NullString
	var decidedAt sql.NullTime
	if req.DecidedBy != "" {
		decidedBy = sql.NullString{String: req.DecidedBy, Valid: true}
	}
	if req.DecidedAt != nil {
		decidedAt = sql.NullTime{Time: *req.DecidedAt, Valid: true}
	}
	if req.RejectionReason != "" {
		rejection = sql.NullString{String: req.RejectionReason, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deletion_requests
		SET status = $3, updated_at = $4, decided_by = $5, decided_at = $6, rejection_reason = $7
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), req.UpdatedAt, decidedBy, decidedAt, rejection)
	if err != nil {
		return tenant.DeletionRequest{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Lost the race between the read and the write.
		return tenant.DeletionRequest{}, fmt.Errorf("deletion request %s no longer %s: %w",
			id, from, storage.ErrConflict)
	}
	return req, nil
}

// buildingRow mirrors the buildings table.
type buildingRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r buildingRow) toDomain() building.Building {
	return building.Building{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Status:    building.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// BuildingStore implementation -------------------------------------------------

func (s *Store) CreateBuilding(ctx context.Context, b building.Building) (building.Building, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = building.StatusActive
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buildings (id, tenant_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.TenantID, b.Name, string(b.Status), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return building.Building{}, err
	}
	return b, nil
}

func (s *Store) GetBuilding(ctx context.Context, id string) (building.Building, error) {
	var row buildingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, name, status, created_at, updated_at
		FROM buildings
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return building.Building{}, fmt.Errorf("building %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return building.Building{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListBuildingsByTenant(ctx context.Context, tenantID string) ([]building.Building, error) {
	var rows []buildingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, name, status, created_at, updated_at
		FROM buildings
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]building.Building, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateBuildingStatus(ctx context.Context, id string, from, to building.Status) (building.Building, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE buildings
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), now)
	if err != nil {
		return building.Building{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Either the building is gone or the guard is stale; re-read to
		// disambiguate.
		b, err := s.GetBuilding(ctx, id)
		if err != nil {
			return building.Building{}, err
		}
		return building.Building{}, fmt.Errorf("building %s is %s, expected %s: %w",
			id, b.Status, from, storage.ErrConflict)
	}
	return s.GetBuilding(ctx, id)
}

// UnitDirectory implementation -------------------------------------------------

type unitRow struct {
	ID         string    `db:"id"`
	BuildingID string    `db:"building_id"`
	Number     string    `db:"number"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (s *Store) ListUnitsByBuilding(ctx context.Context, buildingID string) ([]unit.Unit, error) {
	var rows []unitRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, building_id, number, active, created_at, updated_at
		FROM units
		WHERE building_id = $1
		ORDER BY number, id
	`, buildingID)
	if err != nil {
		return nil, err
	}
	out := make([]unit.Unit, 0, len(rows))
	for _, r := range rows {
		out = append(out, unit.Unit{
			ID:         r.ID,
			BuildingID: r.BuildingID,
			Number:     r.Number,
			Active:     r.Active,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return out, nil
}

// LedgerStore implementation ---------------------------------------------------

type ledgerRow struct {
	ID           string    `db:"id"`
	ResourceKind string    `db:"resource_kind"`
	ResourceID   string    `db:"resource_id"`
	TenantID     string    `db:"tenant_id"`
	FromState    string    `db:"from_state"`
	ToState      string    `db:"to_state"`
	ActorID      string    `db:"actor_id"`
	Reason       string    `db:"reason"`
	RecordedAt   time.Time `db:"recorded_at"`
}

func (r ledgerRow) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:           r.ID,
		ResourceKind: ledger.ResourceKind(r.ResourceKind),
		ResourceID:   r.ResourceID,
		TenantID:     r.TenantID,
		FromState:    r.FromState,
		ToState:      r.ToState,
		ActorID:      r.ActorID,
		Reason:       r.Reason,
		RecordedAt:   r.RecordedAt,
	}
}

func (s *Store) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transition_ledger (id, resource_kind, resource_id, tenant_id, from_state, to_state, actor_id, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, string(entry.ResourceKind), entry.ResourceID, entry.TenantID,
		entry.FromState, entry.ToState, entry.ActorID, entry.Reason, entry.RecordedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (s *Store) ListLedgerByResource(ctx context.Context, kind ledger.ResourceKind, resourceID string) ([]ledger.Entry, error) {
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_kind, resource_id, tenant_id, from_state, to_state, actor_id, reason, recorded_at
		FROM transition_ledger
		WHERE resource_kind = $1 AND resource_id = $2
		ORDER BY recorded_at, id
	`, string(kind), resourceID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListLedgerByTenant(ctx context.Context, tenantID string) ([]ledger.Entry, error) {
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_kind, resource_id, tenant_id, from_state, to_state, actor_id, reason, recorded_at
		FROM transition_ledger
		WHERE tenant_id = $1
		ORDER BY recorded_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
