package requests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EstateOps/admin_core/internal/app/domain/tenant"
	"github.com/EstateOps/admin_core/internal/app/metrics"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// DefaultReconcileSchedule is used when no schedule is configured.
const DefaultReconcileSchedule = "@every 30s"

const (
	reconcileBaseBackoff = 30 * time.Second
	reconcileMaxBackoff  = 10 * time.Minute
)

// Reconciler periodically converges approved deletion requests: it retries
// the building fan-out, archives drained buildings, and completes requests
// whose tenants have fully emptied. It is the only retry driver in the
// system; the transition engine itself never retries.
type Reconciler struct {
	svc      *Service
	store    storage.DeletionRequestStore
	schedule cron.Schedule
	log      *logger.Logger

	mu      sync.Mutex
	retries map[string]retryState

	cancel context.CancelFunc
	done   chan struct{}
}

type retryState struct {
	failures int
	notUntil time.Time
}

// NewReconciler parses the cron-style schedule (descriptors such as
// "@every 30s" are accepted) and returns a stopped reconciler.
func NewReconciler(svc *Service, store storage.DeletionRequestStore, schedule string, log *logger.Logger) (*Reconciler, error) {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	return &Reconciler{
		svc:      svc,
		store:    store,
		schedule: parsed,
		log:      log,
		retries:  make(map[string]retryState),
	}, nil
}

// Name implements system.Service.
func (r *Reconciler) Name() string { return "request-reconciler" }

// Start begins the background loop.
func (r *Reconciler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx)
	r.log.Info("reconciler started")
	return nil
}

// Stop halts the loop, waiting for an in-flight pass to finish or the given
// context to expire.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconciler stop: %w", ctx.Err())
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.Pass(ctx)
	}
}

// Pass runs one reconciliation sweep over every APPROVED request. It is
// exported so read paths and tests can force a sweep without waiting for the
// schedule.
func (r *Reconciler) Pass(ctx context.Context) {
	approved, err := r.store.ListDeletionRequestsByStatus(ctx, tenant.StatusApproved)
	if err != nil {
		r.log.WithError(err).Error("reconciler: listing approved requests failed")
		metrics.RecordReconcilerRun("list_error")
		return
	}

	now := time.Now()
	for _, req := range approved {
		if !r.due(req.ID, now) {
			continue
		}

		updated, err := r.svc.Reconcile(ctx, req.ID)
		if err != nil {
			r.postpone(req.ID, now)
			r.log.WithError(err).WithField("request_id", req.ID).
				Warn("reconciler: pass failed, backing off")
			metrics.RecordReconcilerRun("error")
			continue
		}

		r.clear(req.ID)
		if updated.Status == tenant.StatusCompleted {
			r.log.WithField("request_id", req.ID).
				Infof("reconciler: tenant %s deletion completed", updated.TenantID)
			metrics.RecordReconcilerRun("completed")
		} else {
			metrics.RecordReconcilerRun("waiting")
		}
	}
}

func (r *Reconciler) due(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.retries[id]
	return !ok || !now.Before(st.notUntil)
}

func (r *Reconciler) postpone(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.retries[id]
	st.failures++
	backoff := reconcileBaseBackoff << (st.failures - 1)
	if backoff > reconcileMaxBackoff || backoff <= 0 {
		backoff = reconcileMaxBackoff
	}
	st.notUntil = now.Add(backoff)
	r.retries[id] = st
}

func (r *Reconciler) clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, id)
}
