package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

func dumpCmd() *cli.Command {
	var (
		addr      string
		verbosity string
		stats     bool
		timeout   time.Duration
	)

	return &cli.Command{
		Name:  "dump",
		Usage: "Print a running server's pending sync prims or statistics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "server address",
				Value:       defaultServerAddress,
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "debug verbosity (low, medium, high)",
				Value:       "high",
				Destination: &verbosity,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print engine and device statistics as JSON instead",
				Destination: &stats,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Value:       5 * time.Second,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, configFromContext(ctx), &addr)

			u := url.URL{Scheme: "http", Host: addr, Path: "/v1/debug"}
			if stats {
				u.Path = "/v1/stats"
			} else {
				u.RawQuery = url.Values{"verbosity": {verbosity}}.Encode()
			}
			if strings.Contains(addr, "://") {
				base, err := url.Parse(addr)
				if err != nil {
					return fmt.Errorf("invalid address %q: %w", addr, err)
				}
				u.Scheme, u.Host = base.Scheme, base.Host
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return fetch(ctx, u.String(), os.Stdout)
		},
	}
}

func fetch(ctx context.Context, target string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s: %s", target, resp.Status, strings.TrimSpace(string(body)))
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
