package rawwriter

import (
	"fmt"
	"unsafe"

	"github.com/ncw/directio"
)

// arena is one contiguous aligned allocation carved into ring buffers.
// It is released exactly once, when the writer closes.
type arena struct {
	data    []byte
	release func() error
}

// memAlignment returns the memory alignment used for ring buffers: the
// configured block size, raised to the platform direct I/O alignment.
func memAlignment(blockSize int) int {
	if directio.AlignSize > blockSize {
		return directio.AlignSize
	}
	return blockSize
}

// alignUp rounds n up to the next multiple of align (power of 2)
func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// isAddressAligned checks if a buffer's memory address is aligned to align
func isAddressAligned(buf []byte, align int) bool {
	if len(buf) == 0 {
		return true
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return addr%uintptr(align) == 0
}

// alignSlice returns the first size bytes of buf starting at an align boundary.
// buf must hold at least size+align bytes.
func alignSlice(buf []byte, size, align int) []byte {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int(uintptr(align) - addr%uintptr(align))
	if offset == align {
		offset = 0
	}
	return buf[offset : offset+size]
}

// carveBuffers allocates an arena for n buffers of bufferSize bytes. Each
// buffer starts on a memAlignment boundary so it can be handed to O_DIRECT.
func carveBuffers(n, bufferSize, blockSize int) (*arena, [][]byte, error) {
	align := memAlignment(blockSize)
	stride := int(alignUp(int64(bufferSize), int64(align)))

	a, err := allocArena(n*stride, align)
	if err != nil {
		return nil, nil, err
	}

	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = a.data[i*stride : i*stride+bufferSize : i*stride+bufferSize]
		if !isAddressAligned(bufs[i], align) {
			a.release()
			return nil, nil, fmt.Errorf("%w: buffer %d is not %d-byte aligned", ErrMisaligned, i, align)
		}
	}
	return a, bufs, nil
}

// heapArena allocates an aligned arena on the Go heap.
// directio.AlignedBlock is used when its alignment covers the request.
func heapArena(size, align int) *arena {
	var data []byte
	if directio.AlignSize > 0 && directio.AlignSize%align == 0 {
		data = directio.AlignedBlock(size)
	} else {
		data = alignSlice(make([]byte, size+align), size, align)
	}
	return &arena{
		data:    data,
		release: func() error { return nil },
	}
}
