//go:build unix

package device

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapSyncMemory reserves an anonymous shared mapping for the sync counters.
// Shared mappings keep the words visible to any process the block is later
// handed to, the way firmware-visible sync memory behaves.
func mapSyncMemory(slots int) ([]uint32, func() error, error) {
	size := slots * 4
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap sync memory (%d bytes): %w", size, err)
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), slots)
	release := func() error {
		return unix.Munmap(data)
	}
	return words, release, nil
}
