package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/internal/logger"
	"github.com/samcharles93/gpufence/internal/syncfw"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

type selftestReport struct {
	Producers int          `json:"producers"`
	Rounds    int          `json:"rounds"`
	Fences    int          `json:"fences"`
	Elapsed   string       `json:"elapsed"`
	Engine    fence.Stats  `json:"engine"`
	Device    device.Stats `json:"device"`
}

func selftestCmd() *cli.Command {
	var (
		producers int64
		rounds    int64
		timeout   time.Duration
	)

	return &cli.Command{
		Name:  "selftest",
		Usage: "Drive the engine against the simulated device and report statistics",
		Flags: append(engineFlags(),
			&cli.Int64Flag{
				Name:        "producers",
				Aliases:     []string{"p"},
				Usage:       "number of concurrent timelines",
				Value:       4,
				Destination: &producers,
			},
			&cli.Int64Flag{
				Name:        "rounds",
				Aliases:     []string{"n"},
				Usage:       "fences per timeline",
				Value:       64,
				Destination: &rounds,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Value:       30 * time.Second,
				Destination: &timeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyEngineConfig(cmd, configFromContext(ctx))
			if producers <= 0 || rounds <= 0 {
				return fmt.Errorf("producers and rounds must be positive")
			}

			dev, engine, closeStack, err := openStack(log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			g, gctx := errgroup.WithContext(ctx)
			for i := range int(producers) {
				name := fmt.Sprintf("producer-%d", i)
				g.Go(func() error {
					return runProducer(gctx, engine, dev, name, int(rounds))
				})
			}
			runErr := g.Wait()

			report := selftestReport{
				Producers: int(producers),
				Rounds:    int(rounds),
				Fences:    int(producers * rounds),
				Elapsed:   time.Since(start).Round(time.Microsecond).String(),
			}
			if runErr != nil {
				// Closing would block on prims the aborted producers never got
				// the hardware to meet.
				return fmt.Errorf("selftest: %w", runErr)
			}
			if err := closeStack(); err != nil {
				return err
			}
			report.Engine = engine.Stats()
			report.Device = dev.Stats()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

// runProducer plays one client: every round it reserves a point on its
// timeline, submits the command that signals it, turns the reservation into
// a fence and then submits a consumer that waits on that fence and on a
// foreign software fence.
func runProducer(ctx context.Context, engine *fence.Engine, dev *device.Device, name string, rounds int) error {
	log := logger.FromContext(ctx).With("producer", name)

	tlID, err := engine.OpenTimeline(name)
	if err != nil {
		return err
	}
	defer func() { _ = engine.CloseHandle(tlID) }()
	if err := engine.EnableFencing(tlID, true); err != nil {
		return err
	}

	sw := syncfw.NewSWTimeline(name + "-ext")
	defer sw.Destroy()

	for r := range rounds {
		alloc, err := engine.AllocFence(tlID)
		if err != nil {
			return fmt.Errorf("round %d alloc: %w", r, err)
		}

		var waits, updates ufo.List
		if _, err := engine.MergeFences(name, true, &waits, &updates, alloc.Handle); err != nil {
			_ = engine.CloseHandle(alloc.Handle)
			return fmt.Errorf("round %d query update: %w", r, err)
		}
		if err := dev.Submit(device.Command{Queue: name, Name: fmt.Sprintf("%s-%d", name, r), Waits: waits, Updates: updates}); err != nil {
			_ = engine.CloseHandle(alloc.Handle)
			return err
		}

		fid, err := engine.CreateFence(tlID, alloc.Handle, fmt.Sprintf("%s-%d", name, r))
		_ = engine.CloseHandle(alloc.Handle)
		if err != nil {
			return fmt.Errorf("round %d create: %w", r, err)
		}

		ext, err := sw.CreateFence(name+"-ext", uint32(r+1))
		if err != nil {
			_ = engine.CloseHandle(fid)
			return err
		}
		extID := engine.InstallFence(ext)

		var cw, cu ufo.List
		overflowed, err := engine.MergeFences(name+"-consumer", false, &cw, &cu, fid, extID)
		if err == nil {
			if overflowed {
				log.Warn("consumer query overflowed", "round", r)
			}
			err = dev.Submit(device.Command{Queue: name + "-consumer", Name: fmt.Sprintf("%s-consumer-%d", name, r), Waits: cw, Updates: cu})
		}
		sw.Inc(1)
		if err == nil {
			err = waitHandle(ctx, engine, fid)
		}
		_ = engine.CloseHandle(extID)
		_ = engine.CloseHandle(fid)
		if err != nil {
			return fmt.Errorf("round %d: %w", r, err)
		}
	}
	log.Debug("producer finished", "rounds", rounds)
	return nil
}

func waitHandle(ctx context.Context, engine *fence.Engine, id uuid.UUID) error {
	f, err := engine.LookupFence(id)
	if err != nil {
		return err
	}
	defer f.Put()
	return f.Wait(ctx)
}
