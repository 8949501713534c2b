package device

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// MemoryDevice is a Device backed entirely by a byte slice. It is mainly
// useful for tests and for formatting a brand-new image before it is
// written out to real media.
type MemoryDevice struct {
	rws io.ReadWriteSeeker
}

// NewMemoryDevice creates a MemoryDevice of exactly len(data) bytes.
// Writes past the end of the buffer fail; use NewBlankMemoryDevice to
// preallocate a larger image (e.g. before Format).
func NewMemoryDevice(data []byte) *MemoryDevice {
	return &MemoryDevice{rws: bytesextra.NewReadWriteSeeker(data)}
}

// NewBlankMemoryDevice creates a MemoryDevice of exactly size bytes, all
// zeroed, suitable as the target of Format.
func NewBlankMemoryDevice(size int) *MemoryDevice {
	return NewMemoryDevice(make([]byte, size))
}

func (m *MemoryDevice) Read(p []byte) (int, error)  { return m.rws.Read(p) }
func (m *MemoryDevice) Write(p []byte) (int, error) { return m.rws.Write(p) }
func (m *MemoryDevice) Seek(offset int64, whence int) (int64, error) {
	return m.rws.Seek(offset, whence)
}
func (m *MemoryDevice) Flush() error { return nil }
