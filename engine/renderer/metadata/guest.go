package metadata

import (
	"fmt"
	"io"
)

/** @brief Guest physical memory as seen by a DMA transfer. */
type GuestMemory interface {
	io.ReaderAt
	io.WriterAt
}

/**
 * @brief A guest image description for DMA. Pitch is the byte distance between
 * two block rows; zero means tightly packed rows of the destination level.
 */
type GuestImage struct {
	Memory     GuestMemory
	Offset     int64
	Pitch      uint32
	SlicePitch uint32
}

/** @brief In memory guest region, used by tests and scripted scenarios. */
type GuestBytes []byte

func (g GuestBytes) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(g)) {
		return 0, fmt.Errorf("guest read at %d out of range (len=%d)", off, len(g))
	}
	n := copy(p, g[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (g GuestBytes) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(g)) {
		return 0, fmt.Errorf("guest write of %d bytes at %d out of range (len=%d)", len(p), off, len(g))
	}
	return copy(g[off:], p), nil
}
