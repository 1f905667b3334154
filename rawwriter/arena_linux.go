//go:build linux

package rawwriter

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// allocArena maps anonymous memory for the ring. Mappings are page aligned;
// larger alignments are served by over-mapping and slicing.
// The mapping lives outside the Go heap, so buffers handed to the kernel
// never move and are unmapped deterministically on close.
func allocArena(size, align int) (*arena, error) {
	pageSize := os.Getpagesize()
	mapSize := int(alignUp(int64(size), int64(pageSize)))
	if align > pageSize {
		mapSize += align
	}

	mapping, err := unix.Mmap(-1, 0, mapSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d byte buffer arena: %w", mapSize, err)
	}

	data := mapping[:size]
	if align > pageSize {
		data = alignSlice(mapping, size, align)
	}

	released := false
	return &arena{
		data: data,
		release: func() error {
			if released {
				return nil
			}
			released = true
			return unix.Munmap(mapping)
		},
	}, nil
}
