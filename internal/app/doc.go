// Package app composes the tenant deletion orchestrator.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, store wiring, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── actor/          # Acting principals and role checks
//	│   ├── tenant/         # Tenants and deletion requests
//	│   ├── building/       # Buildings and derived drain status
//	│   ├── unit/           # Units (read-only to this core)
//	│   └── ledger/         # Append-only transition records
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # DeletionRequestStore, BuildingStore, ...
//	│   ├── memory/         # In-memory implementation for tests/local
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/
//	│   ├── transitions/    # Transition engine (single mutation entry point)
//	│   ├── gate/           # Precondition evaluation (live reads, no cache)
//	│   ├── cascade/        # Approval fan-out to buildings
//	│   ├── progress/       # Read-only drain progress
//	│   └── requests/       # Deletion-request façade + reconciler
//	├── httpapi/            # REST handlers, auth wrap, audit log
//	├── auth/               # Static users, JWT issuing and verification
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus registry and collectors
//
// Business rules live in services/; this package only wires them. Every
// state change flows through services/transitions, which is what makes
// repeated API calls idempotent and keeps the ledger complete.
package app
