//go:build !linux || !(amd64 || arm64)

package rawwriter

// newKernelAIO reports that kernel AIO is unavailable (non-Linux fallback)
func newKernelAIO(f *rawFile, depth int) (BlockWriter, error) {
	return nil, ErrAIOUnsupported
}
