package rawwriter

// buffer is one aligned ring slot.
type buffer struct {
	// data is BufferSize bytes, memory aligned for direct I/O
	data []byte

	// used is the number of bytes filled (0 <= used <= len(data))
	used int
}

// free returns the number of bytes that can still be copied in
func (b *buffer) free() int {
	return len(b.data) - b.used
}

// full reports whether the buffer is ready for submission
func (b *buffer) full() bool {
	return b.used == len(b.data)
}

// fill copies as much of p as fits and returns the number of bytes copied
func (b *buffer) fill(p []byte) int {
	n := copy(b.data[b.used:], p)
	b.used += n
	return n
}

// ring manages N buffers filled in order. current is both the index of the
// buffer being filled and the number of buffers submitted since the last
// completion barrier.
type ring struct {
	buffers []buffer
	current int
	arena   *arena
}

func newRing(numBuffers, bufferSize, blockSize int) (*ring, error) {
	a, bufs, err := carveBuffers(numBuffers, bufferSize, blockSize)
	if err != nil {
		return nil, err
	}

	r := &ring{
		buffers: make([]buffer, numBuffers),
		arena:   a,
	}
	for i, data := range bufs {
		clear(data)
		r.buffers[i].data = data
	}
	return r, nil
}

// cur returns the buffer currently being filled
func (r *ring) cur() *buffer {
	return &r.buffers[r.current]
}

// partial returns the fill of the current buffer, or 0 while the ring is
// exhausted and waiting for a barrier
func (r *ring) partial() int {
	if r.current >= len(r.buffers) {
		return 0
	}
	return r.buffers[r.current].used
}

// inFlight returns the number of submitted buffers awaiting completion
func (r *ring) inFlight() int {
	return r.current
}

// advance moves to the next buffer after a submission and reports
// whether the ring is exhausted and needs a completion barrier
func (r *ring) advance() (exhausted bool) {
	r.current++
	return r.current == len(r.buffers)
}

// reset marks every buffer empty after a completion barrier. A partially
// filled current buffer is carried into slot 0 so no accepted bytes are lost.
func (r *ring) reset() {
	carry := 0
	if r.current < len(r.buffers) {
		cur := &r.buffers[r.current]
		carry = cur.used
		if r.current != 0 && carry > 0 {
			copy(r.buffers[0].data, cur.data[:carry])
		}
	}

	for i := range r.buffers {
		r.buffers[i].used = 0
	}
	r.current = 0
	r.buffers[0].used = carry
}

// release unmaps the arena; the ring is unusable afterwards
func (r *ring) release() error {
	if r.arena == nil {
		return nil
	}
	err := r.arena.release()
	r.arena = nil
	r.buffers = nil
	return err
}
