package libchd

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// source is the random-access byte store behind an open CHD. It reads either
// from a mapped or precached buffer, or from the underlying ReaderAt.
type source struct {
	r       io.ReaderAt
	size    int64
	data    []byte
	mmapped bool
	closer  io.Closer
}

// openPath maps path read-only. If mmap is unavailable, reads fall back to
// ReadAt on the open descriptor.
func openPath(path string) (*source, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, StatusFileNotFound
	}
	if err != nil {
		return nil, StatusReadError
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, StatusReadError
	}
	size := stat.Size()
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		_ = f.Close()
		return nil, StatusInvalidFile
	}

	if size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			// The mapping outlives the descriptor.
			_ = f.Close()
			return &source{size: size, data: data, mmapped: true}, nil
		}
	}
	return &source{r: f, size: size, closer: f}, nil
}

func newSource(r io.ReaderAt, size int64) *source {
	return &source{r: r, size: size}
}

// fits reports whether n bytes starting at off lie within the source.
func (s *source) fits(off, n uint64) bool {
	size := uint64(s.size)
	return off <= size && n <= size-off
}

// readAt fills p from off or fails with StatusReadError.
func (s *source) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > s.size || off+int64(len(p)) < off {
		return StatusReadError
	}
	if s.data != nil {
		copy(p, s.data[off:])
		return nil
	}
	if len(p) == 0 {
		return nil
	}
	if err := readFullAt(s.r, p, off); err != nil {
		return StatusReadError
	}
	return nil
}

// precache pulls the whole source into process memory.
func (s *source) precache() error {
	if s.data != nil && !s.mmapped {
		return nil
	}
	if s.size > int64(int(^uint(0)>>1)) {
		return StatusOutOfMemory
	}
	buf := make([]byte, int(s.size))
	if s.mmapped {
		copy(buf, s.data)
		if err := unix.Munmap(s.data); err != nil {
			return StatusReadError
		}
		s.mmapped = false
	} else if err := readFullAt(s.r, buf, 0); err != nil {
		return StatusReadError
	}
	s.data = buf
	return nil
}

func (s *source) close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.mmapped && s.data != nil {
		err = unix.Munmap(s.data)
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	s.data = nil
	s.r = nil
	s.closer = nil
	s.mmapped = false
	return err
}

func readFullAt(r io.ReaderAt, p []byte, off int64) error {
	var n int
	for n < len(p) {
		m, err := r.ReadAt(p[n:], off+int64(n))
		n += m
		if err == nil {
			continue
		}
		if err == io.EOF && n == len(p) {
			break
		}
		return err
	}
	return nil
}
