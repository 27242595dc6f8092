package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/EstateOps/admin_core/internal/app"
	"github.com/EstateOps/admin_core/internal/app/auth"
	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/httpapi"
	"github.com/EstateOps/admin_core/internal/app/storage/postgres"
	"github.com/EstateOps/admin_core/internal/config"
	"github.com/EstateOps/admin_core/internal/platform/database"
	"github.com/EstateOps/admin_core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("adminserver").Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stores app.Stores
	if cfg.Database.DSN != "" {
		db, err := database.Open(ctx, cfg.Database.DSN, database.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			ConnLifetime: cfg.Database.ConnLifetime,
		})
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
			log.Fatalf("migrate database: %v", err)
		}

		pg := postgres.New(db)
		stores = app.Stores{Requests: pg, Buildings: pg, Units: pg, Ledger: pg}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store, state is not persisted")
	}

	application, err := app.New(stores, app.Options{
		CascadeTimeout:    cfg.Cascade.ChildTimeout,
		ReconcileSchedule: cfg.Reconciler.Schedule,
	}, log)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	users := defaultUsers()
	if cfg.Auth.UsersFile != "" {
		users, err = auth.LoadUsers(cfg.Auth.UsersFile)
		if err != nil {
			log.Fatalf("load users: %v", err)
		}
	}
	authMgr, err := auth.NewManager(cfg.Auth.JWTSecret, users, cfg.Auth.Tokens())
	if err != nil {
		log.Fatalf("configure auth: %v", err)
	}

	handler, err := httpapi.NewHandler(application, authMgr, httpapi.Options{
		AuditFile:          cfg.Server.AuditFile,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
	})
	if err != nil {
		log.Fatalf("build handler: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start services: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorf("http server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Errorf("stop services: %v", err)
	}

	os.Exit(0)
}

// defaultUsers is the development fallback when AUTH_USERS_FILE is not set.
func defaultUsers() []auth.User {
	return []auth.User{
		{Username: "admin", Password: "admin", Role: actor.RoleAdmin},
	}
}
