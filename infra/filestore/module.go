package filestore

import (
	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/service"
)

var Module = fx.Module("filestore",
	fx.Provide(
		func(cfg *config.Config) (*Store, error) { return NewOS(cfg.Storage.FilesDir) },
		func(s *Store) service.FileStore { return s },
	),
)
