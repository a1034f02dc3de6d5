// Package storage wires the persistence stack: SQLite underneath, circuit
// breakers on top.
package storage

import (
	"context"
	"errors"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/infra/storage/resilient"
	"github.com/webitel/im-relay-service/infra/storage/sqlite"
	"github.com/webitel/im-relay-service/internal/service"
)

var Module = fx.Module("storage",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*sqlite.Store, error) {
			store, err := sqlite.Open(context.Background(), cfg.Storage.DSN)
			if err != nil {
				return nil, err
			}
			logger.Info("STORAGE_OPENED", "dsn", cfg.Storage.DSN)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return store.Close() },
			})
			return store, nil
		},
		func(s *sqlite.Store, cfg *config.Config, logger *slog.Logger) *resilient.Storage {
			return resilient.New(s, resilient.Settings{
				MaxRequests:      cfg.Breaker.MaxRequests,
				Interval:         cfg.Breaker.Interval,
				Timeout:          cfg.Breaker.Timeout,
				FailureThreshold: cfg.Breaker.FailureThreshold,
				IsSuccessful:     isBusinessError,
				Logger:           logger.With("component", "storage"),
			})
		},
		func(r *resilient.Storage) service.Storage { return r },
	),
	// open eagerly so the close hook runs after every user of the database
	fx.Invoke(func(*sqlite.Store) {}),
)

// isBusinessError keeps row-level outcomes from tripping the breaker.
func isBusinessError(err error) bool {
	return errors.Is(err, sqlite.ErrDuplicateChat) ||
		errors.Is(err, sqlite.ErrDuplicateUser) ||
		errors.Is(err, sqlite.ErrUserNotFound)
}
