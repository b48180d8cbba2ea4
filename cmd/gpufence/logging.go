package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gpufence/internal/logger"
)

type configKey struct{}

// setupLogging loads the config file, builds the root logger and stores
// both on the context for subcommands.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configPath(), configFile != "")
	if err != nil {
		return ctx, fmt.Errorf("load config: %w", err)
	}
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}

	var log logger.Logger
	switch strings.ToLower(logFormat) {
	case "json":
		log = logger.JSON(os.Stderr, level)
	case "text", "":
		log = logger.Text(os.Stderr, level)
	default:
		return ctx, fmt.Errorf("unknown log format %q", logFormat)
	}

	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
