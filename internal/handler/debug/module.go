package debug

import "go.uber.org/fx"

var Module = fx.Module("debug-handler",
	fx.Provide(NewStatsHandler),
)
