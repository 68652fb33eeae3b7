package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/drahnr/constellation/api"
	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/server"
)

// Registration order is chain order, one import group per stage.
import (
	_ "github.com/drahnr/constellation/middleware/recovery"
)

import (
	_ "github.com/drahnr/constellation/middleware/metrics"
)

import (
	_ "github.com/drahnr/constellation/middleware/accesslog"
)

import (
	_ "github.com/drahnr/constellation/middleware/ratelimit"
)

import (
	_ "github.com/drahnr/constellation/middleware/edns"
)

import (
	_ "github.com/drahnr/constellation/middleware/cache"
)

import (
	_ "github.com/drahnr/constellation/middleware/authority"
)

const version = "0.9.0"

var cfgPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "constellation",
		Short:   "Authoritative GeoDNS server with online DNSSEC signing",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "constellation.toml",
		"location of the config file, generated with defaults when missing")

	return cmd
}

func logLevel(s string) zlog.Level {
	switch s {
	case "debug":
		return zlog.LevelDebug
	case "warn":
		return zlog.LevelWarn
	case "error":
		return zlog.LevelError
	default:
		return zlog.LevelInfo
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgPath, version)
	if err != nil {
		return nil, err
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(logLevel(cfg.LogLevel))
	zlog.SetDefault(logger)

	middleware.SetConfig(cfg)
	if err := middleware.Setup(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func run() error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	zlog.Info("Starting constellation...", "version", version, "zones", len(cfg.Zones))

	srv := server.New(cfg)
	srv.Run()

	apiCtx, stopAPI := context.WithCancel(context.Background())
	api.New(cfg).Run(apiCtx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	zlog.Info("Stopping constellation...")

	stopAPI()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zlog.Error("Fatal error", "error", err.Error())
		os.Exit(1)
	}
}
