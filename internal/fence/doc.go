// Package fence is the GPU fence engine. It backs syncfw timelines with
// firmware-visible sync prims, turns fences into the wait/update UFO lists a
// GPU command needs, shadows fences from other drivers, and reclaims prims
// only once the hardware is done with them.
//
// An Engine is built over a Services implementation (normally a
// *device.Device). It owns a prim pool, the timeline registry, a handle
// table and two background workers: one frees deferred prims as the
// hardware catches up, the other kicks the device's status check after a
// foreign fence completes.
package fence
