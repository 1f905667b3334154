//go:build linux && (amd64 || arm64)

package rawwriter

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// iocbCmdPwrite is IOCB_CMD_PWRITE from linux/aio_abi.h
const iocbCmdPwrite = 1

// iocb mirrors struct iocb (little-endian layout, 64 bytes)
type iocb struct {
	data      uint64
	key       uint32
	rwFlags   uint32
	opcode    uint16
	reqPrio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resfd     uint32
}

// ioEvent mirrors struct io_event
type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

// kernelAIO submits writes through a Linux AIO context (io_setup/io_submit).
// Control blocks live in a fixed slice indexed by slot, so their addresses
// stay valid while the kernel holds them.
type kernelAIO struct {
	ctx     uintptr
	fd      int
	depth   int
	pending int
	next    int
	cbs     []iocb
	blocks  [][]byte
	events  []ioEvent
}

func newKernelAIO(f *rawFile, depth int) (BlockWriter, error) {
	var ctx uintptr
	_, _, errno := unix.Syscall(unix.SYS_IO_SETUP, uintptr(depth), uintptr(unsafe.Pointer(&ctx)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_setup(%d) failed: %w", depth, errno)
	}

	return &kernelAIO{
		ctx:    ctx,
		fd:     f.Fd(),
		depth:  depth,
		cbs:    make([]iocb, depth),
		blocks: make([][]byte, depth),
		events: make([]ioEvent, depth),
	}, nil
}

// Submit prepares a pwrite control block and hands it to io_submit
func (a *kernelAIO) Submit(block []byte, offset int64) error {
	if a.pending == a.depth {
		return ErrPipelineFull
	}

	slot := a.next
	cb := &a.cbs[slot]
	*cb = iocb{
		data:   uint64(slot),
		opcode: iocbCmdPwrite,
		fildes: uint32(a.fd),
		buf:    uint64(uintptr(unsafe.Pointer(&block[0]))),
		nbytes: uint64(len(block)),
		offset: offset,
	}
	a.blocks[slot] = block

	cbs := [1]*iocb{cb}
	for {
		n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT, a.ctx, 1, uintptr(unsafe.Pointer(&cbs[0])))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			a.blocks[slot] = nil
			return fmt.Errorf("io_submit failed: %w", errno)
		}
		if n != 1 {
			a.blocks[slot] = nil
			return fmt.Errorf("io_submit accepted %d of 1 requests", n)
		}
		break
	}
	runtime.KeepAlive(block)

	a.next = (a.next + 1) % a.depth
	a.pending++
	return nil
}

// Await collects n completions with io_getevents(min_nr = max_nr = n)
func (a *kernelAIO) Await(n int) (int, error) {
	if n > a.pending {
		return 0, fmt.Errorf("%w: awaiting %d with %d outstanding", ErrCompletionMismatch, n, a.pending)
	}

	completed := 0
	var firstErr error
	for completed < n {
		want := uintptr(n - completed)
		r, _, errno := unix.Syscall6(unix.SYS_IO_GETEVENTS, a.ctx, want, want,
			uintptr(unsafe.Pointer(&a.events[completed])), 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			firstErr = joinCompletionErr(firstErr, fmt.Errorf("io_getevents failed: %w", errno))
			break
		}
		if r == 0 {
			break
		}

		for _, ev := range a.events[completed : completed+int(r)] {
			firstErr = joinCompletionErr(firstErr, a.checkEvent(ev))
		}
		completed += int(r)
	}

	a.pending -= completed
	if completed != n {
		firstErr = joinCompletionErr(firstErr,
			fmt.Errorf("%w: %d != %d", ErrCompletionMismatch, completed, n))
	}
	return completed, firstErr
}

// checkEvent validates a completion and releases its slot
func (a *kernelAIO) checkEvent(ev ioEvent) error {
	slot := int(ev.data)
	if slot < 0 || slot >= a.depth {
		return fmt.Errorf("%w: unknown completion slot %d", ErrCompletionMismatch, slot)
	}
	expected := a.cbs[slot].nbytes
	offset := a.cbs[slot].offset
	a.blocks[slot] = nil

	if ev.res < 0 {
		return fmt.Errorf("async pwrite at offset %d failed: %w", offset, unix.Errno(-ev.res))
	}
	if uint64(ev.res) != expected {
		return fmt.Errorf("%w: wrote %d of %d bytes at offset %d", errShortCompletion, ev.res, expected, offset)
	}
	return nil
}

// Pending returns the number of submitted writes not yet awaited
func (a *kernelAIO) Pending() int {
	return a.pending
}

// Name identifies the engine
func (a *kernelAIO) Name() string {
	return string(EngineAIO)
}

// Close destroys the AIO context. io_destroy waits for any request still
// owned by the kernel.
func (a *kernelAIO) Close() error {
	if a.ctx == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IO_DESTROY, a.ctx, 0, 0)
	a.ctx = 0
	if errno != 0 {
		return fmt.Errorf("io_destroy failed: %w", errno)
	}
	return nil
}
