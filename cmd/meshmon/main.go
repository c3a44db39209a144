package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/app"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/config"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/logging"
)

var version = "dev"
var appName = "meshmon"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	if cfg.LogDir != "" {
		f, path, ferr := logging.OpenLogFile(cfg.LogDir, appName)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", ferr)
			os.Exit(1)
		}
		defer f.Close()
		logger = logging.NewTee(cfg, version, appName, f)
		logger.Info("logging to file", "path", path)
	}
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"serial_port", cfg.SerialPort,
		"serial_baud", cfg.SerialBaud,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
