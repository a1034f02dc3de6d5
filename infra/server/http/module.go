package http

import (
	"context"

	"go.uber.org/fx"
)

// AsRoute tags a constructor so its result joins the server's route group.
func AsRoute(f any) any {
	return fx.Annotate(f,
		fx.As(new(Registrar)),
		fx.ResultTags(`group:"routes"`),
	)
}

var Module = fx.Module("http-server",
	fx.Provide(
		fx.Annotate(NewServer, fx.ParamTags(``, ``, `group:"routes"`)),
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  s.Stop,
		})
	}),
)
