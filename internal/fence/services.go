package fence

import "github.com/samcharles93/gpufence/internal/device"

// Services is the GPU services layer the engine runs on.
type Services interface {
	AllocSyncPrim(class string) (device.Prim, error)
	FreeSyncPrim(p device.Prim)

	// The bridge lock serialises operations on the prim context.
	AcquireBridgeLock()
	ReleaseBridgeLock()

	OpenEvent() (device.Listener, error)
	// CheckStatus asks the device to re-evaluate blocked work.
	CheckStatus()

	RegisterCmdCompleteNotify(fn func()) (func(), error)
	RegisterDebugNotify(fn device.DebugFunc) (func(), error)
}

var _ Services = (*device.Device)(nil)
