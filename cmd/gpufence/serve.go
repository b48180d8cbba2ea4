package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/gpufence/internal/control"
	"github.com/samcharles93/gpufence/internal/logger"
)

const defaultServerAddress = "127.0.0.1:7414"

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		statsInterval time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the fence engine behind the HTTP control channel",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       defaultServerAddress,
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.DurationFlag{
				Name:        "stats-interval",
				Usage:       "how often to log engine statistics (0 disables)",
				Value:       time.Minute,
				Destination: &statsInterval,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyEngineConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			dev, engine, closeStack, err := openStack(log)
			if err != nil {
				return err
			}
			server := control.NewServer(engine, dev, log.With("component", "control"))

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("starting server", "address", addr)
				sc := echo.StartConfig{
					Address: addr,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = readTimeout
						return nil
					},
				}
				if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if statsInterval > 0 {
				g.Go(func() error {
					t := time.NewTicker(statsInterval)
					defer t.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-t.C:
							st := engine.Stats()
							log.Info("engine stats",
								"timelines", st.Timelines,
								"handles", st.Handles,
								"pool_active", st.Pool.Active,
								"pool_free", st.Pool.Free,
								"deferred_frees", st.DeferredFrees,
								"query_overflows", st.QueryOverflows)
						}
					}
				})
			}

			err = g.Wait()
			log.Info("shutting down")
			server.Close()
			if cerr := closeStack(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		},
	}
}
