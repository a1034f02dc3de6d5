package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/im-relay-service/config"
)

const (
	ServiceName      = "im-relay-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Real-time chat relay for the Webitel platform",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the websocket relay",
		ArgsUsage: "[-- --http.addr=:9090 --log.level=debug ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}

			lvl, _ := cfg.Log.SlogLevel() // validated by LoadConfig
			level := new(slog.LevelVar)
			level.Set(lvl)

			app := NewApp(cfg, level)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			slog.Info("SERVICE_STARTED",
				"version", version,
				"commit", commit,
				"commit_date", commitDate,
				"branch", branch,
				"build", buildTimestamp,
			)

			// [HOT_RELOAD] only the log level is applied live
			cfg.Watch(func(next *config.Config) {
				if l, err := next.Log.SlogLevel(); err == nil && l != level.Level() {
					level.Set(l)
					slog.Info("LOG_LEVEL_CHANGED", "level", l.String())
				}
			}, func(err error) {
				slog.Warn("CONFIG_RELOAD_REJECTED", "err", err)
			})

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Live terminal view of a running relay's stats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8080",
				Usage: "Base URL of the relay",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Polling period",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.Context, c.String("addr"), c.Duration("interval"))
		},
	}
}
