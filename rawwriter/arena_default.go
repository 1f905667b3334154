//go:build !linux

package rawwriter

// allocArena allocates the ring on the Go heap (non-Linux fallback)
func allocArena(size, align int) (*arena, error) {
	return heapArena(size, align), nil
}
