package main

import (
	"fmt"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/internal/logger"
)

// openStack builds the simulated device and an engine on top of it from
// the engine flags. close tears both down in order.
func openStack(log logger.Logger) (*device.Device, *fence.Engine, func() error, error) {
	if poolCapacity <= 0 || maxQueryPoints <= 0 || syncSlots <= 0 || eventTimeout <= 0 {
		return nil, nil, nil, fmt.Errorf("pool-capacity, max-query-points, sync-slots and event-timeout must be positive")
	}
	dev, err := device.New(device.Config{
		Slots:        int(syncSlots),
		EventTimeout: eventTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open device: %w", err)
	}
	engine, err := fence.New(dev, fence.Config{
		PoolCapacity:        int(poolCapacity),
		MaxQueryFencePoints: int(maxQueryPoints),
		Logger:              log,
	})
	if err != nil {
		_ = dev.Close()
		return nil, nil, nil, fmt.Errorf("start engine: %w", err)
	}
	closeFn := func() error {
		if err := engine.Close(); err != nil {
			_ = dev.Close()
			return err
		}
		return dev.Close()
	}
	return dev, engine, closeFn, nil
}
