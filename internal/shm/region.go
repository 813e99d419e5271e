// Package shm manages the shared-memory regions behind guest and output
// buffers: mapping incoming pool fds, allocating anonymous memory for
// host-bound buffers, and copying damage rectangles between them.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/logger"
)

// Region is a reference-counted memory mapping. A region may be referenced
// by a live guest buffer and a host-side output buffer at the same time
// mid-commit, so the mapping is torn down only when the last reference is
// dropped. Unmap and fd close happen exactly once.
type Region struct {
	data    []byte
	fd      int
	refs    int
	cleanup func()
}

// Map wraps an fd received from a guest into a shared mapping of the given
// size. The region takes ownership of the fd.
func Map(fd int, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid mapping size %d", size)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	r := &Region{data: data, fd: fd, refs: 1}
	r.cleanup = func() {
		if err := unix.Munmap(data); err != nil {
			logger.Error("munmap failed", "size", size, "error", err)
		}
		if err := unix.Close(fd); err != nil {
			logger.Error("close mapping fd failed", "fd", fd, "error", err)
		}
	}
	return r, nil
}

// Create allocates a fresh anonymous region of the given size, backed by a
// memfd that can be passed to the host as a pool. The mapping is writable.
func Create(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid allocation size %d", size)
	}
	fd, err := unix.MemfdCreate("waybridge-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate to %d: %w", size, err)
	}
	r, err := Map(fd, size)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return r, nil
}

// newRegion builds a region around caller-provided memory, used by tests to
// observe cleanup without real mappings.
func newRegion(data []byte, cleanup func()) *Region {
	return &Region{data: data, fd: -1, refs: 1, cleanup: cleanup}
}

// Ref takes an additional reference and returns the region for chaining.
func (r *Region) Ref() *Region {
	if r.refs <= 0 {
		logger.Error("ref on released region")
		return r
	}
	r.refs++
	return r
}

// Unref drops one reference. The mapping is unmapped and its fd closed when
// the count reaches zero; further calls are logged and ignored.
func (r *Region) Unref() {
	if r.refs <= 0 {
		logger.Error("unref on released region")
		return
	}
	r.refs--
	if r.refs == 0 {
		if r.cleanup != nil {
			r.cleanup()
			r.cleanup = nil
		}
		r.data = nil
		r.fd = -1
	}
}

// Bytes returns the mapped memory. Nil once released.
func (r *Region) Bytes() []byte {
	return r.data
}

// Fd returns the backing file descriptor, -1 once released or for
// non-fd-backed regions.
func (r *Region) Fd() int {
	return r.fd
}

// Size returns the mapping length in bytes.
func (r *Region) Size() int {
	return len(r.data)
}

// Live reports whether the region still holds its mapping.
func (r *Region) Live() bool {
	return r.refs > 0
}
