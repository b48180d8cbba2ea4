package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

var (
	configFile     string
	logLevel       string
	logFormat      string
	debug          bool
	poolCapacity   int64
	maxQueryPoints int64
	syncSlots      int64
	eventTimeout   time.Duration
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/gpufence/config.yaml)",
		Destination: &configFile,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (text, json)",
			Value:       "text",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "pool-capacity",
			Usage:       "number of released sync prims kept for reuse",
			Value:       10,
			Destination: &poolCapacity,
		},
		&cli.Int64Flag{
			Name:        "max-query-points",
			Aliases:     []string{"max-points"},
			Usage:       "query entries reserved per fence when merging",
			Value:       14,
			Destination: &maxQueryPoints,
		},
		&cli.Int64Flag{
			Name:        "sync-slots",
			Usage:       "size of the simulated sync memory in 32-bit counters",
			Value:       4096,
			Destination: &syncSlots,
		},
		&cli.DurationFlag{
			Name:        "event-timeout",
			Usage:       "bound on a single wait for the device event object",
			Value:       100 * time.Millisecond,
			Destination: &eventTimeout,
		},
	}
}
