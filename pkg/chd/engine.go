package chd

import (
	"io"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

// Mode selects how a container is opened. Only ReadOnly is implemented;
// ReadWrite is reserved.
type Mode int

const (
	ReadOnly  Mode = Mode(libchd.ReadOnly)
	ReadWrite Mode = Mode(libchd.ReadWrite)
)

// Source names the container to open: a path, or an already open
// random-access stream of Size bytes.
type Source struct {
	Path   string
	Reader io.ReaderAt
	Size   int64
}

// PathSource opens the container at path.
func PathSource(path string) Source { return Source{Path: path} }

// ReaderSource reads the container from r.
func ReaderSource(r io.ReaderAt, size int64) Source {
	return Source{Reader: r, Size: size}
}

func (s Source) String() string {
	if s.Reader != nil {
		return "<stream>"
	}
	return s.Path
}

// Engine opens containers. Its errors should be libchd.Status values.
type Engine interface {
	Open(src Source, mode Mode, parent Handle) (Handle, error)
	ReadHeader(path string) (*libchd.Header, error)
}

// Handle is one open container inside an engine. The header it returns is
// owned by the handle and is invalid after Close.
type Handle interface {
	Header() *libchd.Header
	ReadHunk(index uint32, dst []byte) error
	Metadata(tag, index uint32, dst []byte) (length, resultTag uint32, flags uint8, err error)
	Precache() error
	Close() error
}

type nativeEngine struct{}

// NativeEngine returns the engine backed by package libchd.
func NativeEngine() Engine { return nativeEngine{} }

func (nativeEngine) Open(src Source, mode Mode, parent Handle) (Handle, error) {
	var pf *libchd.File
	if parent != nil {
		nh, ok := parent.(*nativeHandle)
		if !ok {
			return nil, libchd.StatusInvalidParent
		}
		pf = nh.File
	}
	var (
		f   *libchd.File
		err error
	)
	if src.Reader != nil {
		f, err = libchd.OpenReaderAt(src.Reader, src.Size, libchd.Mode(mode), pf)
	} else {
		f, err = libchd.Open(src.Path, libchd.Mode(mode), pf)
	}
	if err != nil {
		return nil, err
	}
	return &nativeHandle{File: f}, nil
}

func (nativeEngine) ReadHeader(path string) (*libchd.Header, error) {
	return libchd.ReadHeader(path)
}

type nativeHandle struct {
	*libchd.File
}
