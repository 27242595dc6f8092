package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/EstateOps/admin_core/internal/app/auth"
	"github.com/EstateOps/admin_core/internal/app/domain/actor"
)

type contextKey string

const actorKey contextKey = "actor"

// requireActor resolves the Authorization header to an actor and stores it in
// the request context. Requests without a valid credential are rejected.
func requireActor(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			act, err := mgr.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, act)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// mustActor returns the actor stored by requireActor. Handlers behind the
// auth middleware may assume it is present.
func mustActor(r *http.Request) actor.Actor {
	act, _ := r.Context().Value(actorKey).(actor.Actor)
	return act
}

// rateLimit caps requests per bearer credential (falling back to the remote
// address before auth resolves an actor). A zero rate disables limiting.
func rateLimit(perSecond float64) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
			limiters[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Authorization")
			if key == "" {
				key = r.RemoteAddr
			}
			if !limiterFor(key).Allow() {
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditRequests records every authenticated request with its acting
// principal and response status.
func (h *handler) auditRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		act := mustActor(r)
		role := ""
		if len(act.Roles) > 0 {
			role = string(act.Roles[0])
		}
		h.audit.add(auditEntry{
			Time:       timeNow(),
			ActorID:    act.ID,
			Role:       role,
			TenantID:   act.TenantID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
