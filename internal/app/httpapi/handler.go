// Package httpapi exposes the deletion orchestrator over REST. All mutations
// route through the transition engine, so repeating any call is safe.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	app "github.com/EstateOps/admin_core/internal/app"
	"github.com/EstateOps/admin_core/internal/app/auth"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/metrics"
	"github.com/EstateOps/admin_core/internal/app/services/cascade"
	"github.com/EstateOps/admin_core/internal/app/services/requests"
	"github.com/EstateOps/admin_core/internal/app/services/transitions"
	"github.com/EstateOps/admin_core/internal/app/storage"
)

// handler bundles the HTTP endpoints over the application services.
type handler struct {
	app   *app.Application
	auth  *auth.Manager
	audit *auditLog
}

// Options tunes the HTTP surface.
type Options struct {
	// AuditFile, when set, receives audit entries as JSONL in addition to
	// the in-memory ring.
	AuditFile string
	// RateLimitPerSecond caps requests per authenticated actor. Zero
	// disables limiting.
	RateLimitPerSecond float64
}

// NewHandler returns the fully wired router: metrics instrumentation, rate
// limiting, bearer auth and audit logging around the REST endpoints.
func NewHandler(application *app.Application, authMgr *auth.Manager, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, err
	}

	h := &handler{
		app:   application,
		auth:  authMgr,
		audit: newAuditLog(0, sink),
	}

	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimitPerSecond))
		r.Use(requireActor(authMgr))
		r.Use(h.auditRequests)

		r.Post("/deletion-requests", h.submitRequest)
		r.Get("/deletion-requests", h.listRequests)
		r.Get("/deletion-requests/{id}", h.getRequest)
		r.Post("/deletion-requests/{id}/decision", h.decideRequest)
		r.Post("/deletion-requests/{id}/cancel", h.cancelRequest)

		r.Get("/tenants/{id}/progress", h.tenantProgress)
		r.Get("/buildings/{id}/targets-status", h.buildingTargets)
		r.Post("/buildings/{id}/complete", h.completeBuilding)

		r.Get("/ledger", h.listLedger)
		r.Get("/audit", h.listAudit)
	})

	return r, nil
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.auth.Login(payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TenantID string `json:"tenant_id"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.TenantID == "" {
		writeError(w, http.StatusBadRequest, errors.New("tenant_id is required"))
		return
	}
	if payload.Reason == "" {
		writeError(w, http.StatusBadRequest, errors.New("reason is required"))
		return
	}

	req, err := h.app.Requests.Submit(r.Context(), mustActor(r), payload.TenantID, payload.Reason)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	scope := requests.ListScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = requests.ScopeMine
	}
	if scope != requests.ScopeMine && scope != requests.ScopeAll {
		writeError(w, http.StatusBadRequest, errors.New("scope must be mine or all"))
		return
	}

	list, err := h.app.Requests.List(r.Context(), mustActor(r), scope)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Get(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) decideRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Approve         bool   `json:"approve"`
		RejectionReason string `json:"rejection_reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !payload.Approve && payload.RejectionReason == "" {
		writeError(w, http.StatusBadRequest, errors.New("rejection_reason is required when rejecting"))
		return
	}

	req, err := h.app.Requests.Decide(r.Context(), mustActor(r), chi.URLParam(r, "id"), payload.Approve, payload.RejectionReason)
	if err != nil {
		var partial *cascade.PartialError
		if errors.As(err, &partial) {
			// The approval stands; report which buildings did not make it.
			failed := make([]map[string]string, 0, len(partial.Children))
			for _, c := range partial.Children {
				failed = append(failed, map[string]string{
					"building_id": c.BuildingID,
					"error":       c.Err.Error(),
				})
			}
			writeJSON(w, http.StatusMultiStatus, map[string]interface{}{
				"request":           req,
				"cascade_failures":  failed,
				"retry_information": "failed buildings are retried by the reconciler",
			})
			return
		}
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Cancel(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) tenantProgress(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	act := mustActor(r)
	if !act.IsAdmin() && !act.IsSystem() && act.TenantID != tenantID {
		h.mapError(w, &transitions.UnauthorizedError{ActorID: act.ID, Action: "read tenant progress"})
		return
	}

	// Reading progress is a natural moment to close out a finished request.
	if list, err := h.app.Stores.Requests.ListDeletionRequests(r.Context(), tenantID); err == nil {
		for _, req := range list {
			if req.Status == tenant.StatusApproved {
				if _, err := h.app.Requests.CheckCompletion(r.Context(), req.ID); err != nil {
					h.app.Log.WithError(err).Warnf("completion check on progress read for request %s", req.ID)
				}
			}
		}
	}

	prog, err := h.app.Progress.Tenant(r.Context(), tenantID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (h *handler) buildingTargets(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Gate.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) completeBuilding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.app.Transitions.RequestTransition(r.Context(), ledger.KindBuilding, id, string(building.StatusArchived), mustActor(r), "archive requested"); err != nil {
		h.mapError(w, err)
		return
	}

	b, err := h.app.Stores.Buildings.GetBuilding(r.Context(), id)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) listLedger(w http.ResponseWriter, r *http.Request) {
	act := mustActor(r)
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = act.TenantID
	}
	if !act.IsAdmin() && !act.IsSystem() && act.TenantID != tenantID {
		h.mapError(w, &transitions.UnauthorizedError{ActorID: act.ID, Action: "read another tenant's ledger"})
		return
	}

	entries, err := h.app.Stores.Ledger.ListLedgerByTenant(r.Context(), tenantID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	act := mustActor(r)
	if !act.IsAdmin() {
		h.mapError(w, &transitions.UnauthorizedError{ActorID: act.ID, Action: "read the audit log"})
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(parseLimit(r)))
}

// mapError translates the service error taxonomy to HTTP statuses.
func (h *handler) mapError(w http.ResponseWriter, err error) {
	var (
		invalid      *transitions.InvalidTransitionError
		precondition *transitions.PreconditionError
		unauthorized *transitions.UnauthorizedError
		upstream     *transitions.UpstreamError
	)
	switch {
	case errors.As(err, &precondition):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":          precondition.Error(),
			"total_units":    precondition.Status.TotalUnits,
			"inactive_units": precondition.Status.InactiveUnits,
			"units_ready":    precondition.Status.UnitsReady,
		})
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
