package app

import (
	"context"
	"fmt"
	"time"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/ledger"
	"github.com/EstateOps/admin_core/internal/app/services/cascade"
	"github.com/EstateOps/admin_core/internal/app/services/gate"
	"github.com/EstateOps/admin_core/internal/app/services/progress"
	"github.com/EstateOps/admin_core/internal/app/services/requests"
	"github.com/EstateOps/admin_core/internal/app/services/transitions"
	"github.com/EstateOps/admin_core/internal/app/storage"
	"github.com/EstateOps/admin_core/internal/app/storage/memory"
	"github.com/EstateOps/admin_core/internal/app/system"
	"github.com/EstateOps/admin_core/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Requests  storage.DeletionRequestStore
	Buildings storage.BuildingStore
	Units     storage.UnitDirectory
	Ledger    storage.LedgerStore
}

// Options tunes background behavior.
type Options struct {
	// CascadeTimeout bounds each per-building transition during fan-out.
	CascadeTimeout time.Duration
	// ReconcileSchedule is a cron-style schedule for the reconciler
	// (descriptors such as "@every 30s" are accepted). Empty uses the
	// default.
	ReconcileSchedule string
}

// Application ties the deletion-orchestrator services together and manages
// their lifecycle.
type Application struct {
	manager *system.Manager

	Log    *logger.Logger
	Stores Stores

	Progress    *progress.Poller
	Gate        *gate.Evaluator
	Transitions *transitions.Service
	Cascade     *cascade.Dispatcher
	Requests    *requests.Service
	Reconciler  *requests.Reconciler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Buildings == nil {
		stores.Buildings = mem
	}
	if stores.Units == nil {
		stores.Units = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}

	manager := system.NewManager()

	poller := progress.New(stores.Buildings, stores.Units, log)
	gateEval := gate.New(stores.Buildings, poller, log)
	engine := transitions.New(stores.Requests, stores.Buildings, stores.Ledger, gateEval, log)

	// The dispatcher transitions buildings through the engine, and the
	// engine fans approvals out through the dispatcher, so the loop is
	// closed after construction.
	dispatcher := cascade.New(stores.Buildings, func(ctx context.Context, buildingID string, act actor.Actor) error {
		_, err := engine.RequestTransition(ctx, ledger.KindBuilding, buildingID, string(building.StatusPendingDeletion), act, "tenant deletion approved")
		return err
	}, opts.CascadeTimeout, log)
	engine.AttachDispatcher(dispatcher)

	requestSvc := requests.New(stores.Requests, stores.Buildings, stores.Ledger, engine, gateEval, dispatcher, log)

	reconciler, err := requests.NewReconciler(requestSvc, stores.Requests, opts.ReconcileSchedule, log)
	if err != nil {
		return nil, err
	}
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register %s: %w", reconciler.Name(), err)
	}

	return &Application{
		manager:     manager,
		Log:         log,
		Stores:      stores,
		Progress:    poller,
		Gate:        gateEval,
		Transitions: engine,
		Cascade:     dispatcher,
		Requests:    requestSvc,
		Reconciler:  reconciler,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
