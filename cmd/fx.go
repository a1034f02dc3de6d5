package cmd

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/infra/filestore"
	infrapubsub "github.com/webitel/im-relay-service/infra/pubsub"
	httpsrv "github.com/webitel/im-relay-service/infra/server/http"
	"github.com/webitel/im-relay-service/infra/storage"
	"github.com/webitel/im-relay-service/infra/storage/resilient"
	"github.com/webitel/im-relay-service/infra/storage/sqlite"
	eventexport "github.com/webitel/im-relay-service/internal/adapter/pubsub"
	"github.com/webitel/im-relay-service/internal/domain/delivery"
	"github.com/webitel/im-relay-service/internal/domain/registry"
	"github.com/webitel/im-relay-service/internal/handler/debug"
	"github.com/webitel/im-relay-service/internal/handler/ws"
	"github.com/webitel/im-relay-service/internal/service"
)

const staticPrefix = "/static/chat"

// NewApp assembles the relay. extra options are appended, e.g. fx.Populate in tests.
func NewApp(cfg *config.Config, level *slog.LevelVar, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Supply(cfg, level),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideResource,
			ProvideMeterProvider,
			ProvideTracerProvider,
		),
		// [TELEMETRY] install the global tracer provider
		fx.Invoke(func(trace.TracerProvider) {}),

		// [GRACEFUL_SHUTDOWN] stop hooks run in reverse: sockets close first,
		// then the hub, the engine, the publisher and finally the database
		storage.Module,
		filestore.Module,
		infrapubsub.Module,
		eventexport.Module,
		delivery.Module,
		registry.Module,
		service.Module,

		// Transport
		ws.Module,
		debug.Module,
		fx.Provide(
			func(s *sqlite.Store) debug.Pinger { return s },
			func(s *resilient.Storage) debug.BreakerStates { return s },
			httpsrv.AsRoute(func(h *ws.WSHandler) *ws.WSHandler { return h }),
			httpsrv.AsRoute(func(h *debug.StatsHandler) *debug.StatsHandler { return h }),
			httpsrv.AsRoute(staticRoute),
		),
		httpsrv.Module,
	}

	return fx.New(append(opts, extra...)...)
}

// staticRoute serves stored attachments under the reference Save returned.
func staticRoute(files *filestore.Store) httpsrv.RegistrarFunc {
	return func(r chi.Router) {
		r.Handle(staticPrefix+"/*", http.StripPrefix(staticPrefix, files.Handler()))
	}
}
