package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/bookingengine/libs/config"
	"github.com/md-rashed-zaman/bookingengine/libs/db"
	"github.com/md-rashed-zaman/bookingengine/libs/runtime"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/maintenance"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/storage/memstore"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/wizard"
)

// backend is everything the service needs from persistence. Both the
// Postgres store and the in-memory store satisfy it.
type backend interface {
	booking.Store
	booking.Catalog
	wizard.Catalog
	venues.Catalog
	availability.ScheduleSource
	availability.BookedSource
	handlers.CatalogWriter
	handlers.Inbox
	notify.Inbox
	reconcile.Store
	reconcile.Contacts
	outbox.JobStore
	outbox.RelayStore
	maintenance.Purger
}

var (
	_ backend = (*storage.Store)(nil)
	_ backend = (*memstore.Store)(nil)
)

// openBackend returns the configured store, the ready checks it
// contributes and a close func.
func openBackend(ctx context.Context, logger *slog.Logger, router *outbox.Router) (backend, []runtime.ReadyCheck, func(), error) {
	maxAttempts := config.Int("OUTBOX_MAX_ATTEMPTS", 3)

	switch driver := config.String("STORAGE_DRIVER", "postgres"); driver {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		store := memstore.New(router)
		store.MaxAttempts = maxAttempts
		return store, nil, func() {}, nil
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, nil, nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		store := storage.New(pool, router, maxAttempts)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
		return store, checks, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}
}
