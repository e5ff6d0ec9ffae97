// Package chd provides random access to CHD (Compressed Hunks of Data)
// containers.
//
// A File is a session over one container: it caches the most recently used
// hunk, serves unit, hunk and byte-range reads that span hunks, looks up
// metadata by tag, and refuses every operation once closed. Decompression is
// delegated to an Engine; NativeEngine is used unless Options says
// otherwise.
//
// A File is not safe for concurrent use. Independent Files, including a
// child and its parent, may be used from different goroutines.
package chd

import (
	"fmt"
	"io"

	"github.com/samcharles93/chdkit/internal/logger"
	"github.com/samcharles93/chdkit/pkg/libchd"
)

type state int

const (
	stateUninitialized state = iota
	stateOpened
	stateClosed
)

// Warner receives non-fatal diagnostics. *slog.Logger and logger.Logger
// satisfy it.
type Warner interface {
	Warn(msg string, args ...any)
}

// Options configures Init. The zero value opens read-only with the native
// engine and no parent.
type Options struct {
	Mode Mode
	// Parent resolves hunks missing from a differencing container. The
	// child never closes it.
	Parent *File
	Engine Engine
	Logger Warner
}

// File is a session over one container.
type File struct {
	state  state
	opened bool

	handle Handle
	log    Warner

	// raw is owned by handle and dropped on Close.
	raw    *libchd.Header
	header *Header

	unitsPerHunk uint32
	cache        hunkCache
}

// Open opens the container at path.
func Open(path string, opts *Options) (*File, error) {
	f := &File{}
	if err := f.Init(PathSource(path), opts); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenReaderAt opens a container stored in r. Closing the File does not
// close r.
func OpenReaderAt(r io.ReaderAt, size int64, opts *Options) (*File, error) {
	f := &File{}
	if err := f.Init(ReaderSource(r, size), opts); err != nil {
		return nil, err
	}
	return f, nil
}

// Init opens src on an empty File. Calling Init again on a File that was
// opened is a no-op that logs a warning. A failed Init leaves the File
// closed with nothing retained.
func (f *File) Init(src Source, opts *Options) error {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	if o.Mode == 0 {
		o.Mode = ReadOnly
	}
	if o.Engine == nil {
		o.Engine = NativeEngine()
	}

	switch f.state {
	case stateOpened:
		o.Logger.Warn("chd: refusing to initialize an open file twice", "source", src.String())
		return nil
	case stateClosed:
		if f.opened {
			o.Logger.Warn("chd: refusing to initialize a closed file", "source", src.String())
			return nil
		}
		panic("chd: Init called again after a failed Init")
	}

	f.log = o.Logger

	var parent Handle
	if o.Parent != nil {
		if o.Parent.state != stateOpened {
			f.state = stateClosed
			return newError(KindClosedSession, "open parent")
		}
		parent = o.Parent.handle
	}

	handle, err := o.Engine.Open(src, o.Mode, parent)
	if err != nil {
		f.state = stateClosed
		return translate("open", err)
	}

	raw := handle.Header()
	if raw.UnitBytes == 0 || raw.HunkBytes%raw.UnitBytes != 0 {
		_ = handle.Close()
		f.state = stateClosed
		e := newError(KindInvariantViolation, "open")
		e.Err = fmt.Errorf("hunk size %d is not a multiple of unit size %d", raw.HunkBytes, raw.UnitBytes)
		return e
	}

	if raw.HunkBytes > maxHunkBytes {
		_ = handle.Close()
		f.state = stateClosed
		e := newError(KindAllocationFailure, "open")
		e.Err = fmt.Errorf("hunk size %d exceeds the %d byte cache limit", raw.HunkBytes, maxHunkBytes)
		return e
	}
	buf := make([]byte, raw.HunkBytes)

	f.handle = handle
	f.raw = raw
	f.unitsPerHunk = raw.HunkBytes / raw.UnitBytes
	f.cache = hunkCache{handle: handle, buf: buf}
	f.state = stateOpened
	f.opened = true
	return nil
}

// maxHunkBytes bounds the cache buffer.
const maxHunkBytes = 1 << 28

// Close releases the container. It never closes the parent. Closing a
// closed or never opened File is a no-op.
func (f *File) Close() error {
	if f == nil || f.state != stateOpened {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	f.raw = nil
	f.header = nil
	f.cache.reset()
	f.state = stateClosed
	if err != nil {
		return translate("close", err)
	}
	return nil
}

// Closed reports whether the File is unusable, either because it was
// closed or because it was never opened.
func (f *File) Closed() bool {
	return f == nil || f.state != stateOpened
}

func (f *File) check(op string) error {
	if f == nil || f.state != stateOpened {
		return newError(KindClosedSession, op)
	}
	return nil
}

// Header returns a copy of the normalized header. The header is computed
// once per session; changes to the copy do not reach the session.
func (f *File) Header() (*Header, error) {
	h, err := f.cachedHeader("header")
	if err != nil {
		return nil, err
	}
	return h.Clone(), nil
}

func (f *File) cachedHeader(op string) (*Header, error) {
	if err := f.check(op); err != nil {
		return nil, err
	}
	if f.header == nil {
		f.header = NewHeader(f.raw)
	}
	return f.header, nil
}

// Precache asks the engine to keep the whole container resident.
func (f *File) Precache() error {
	if err := f.check("precache"); err != nil {
		return err
	}
	return f.cache.precache("precache")
}

// Precached reports whether Precache has succeeded on this session.
func (f *File) Precached() (bool, error) {
	if err := f.check("precached"); err != nil {
		return false, err
	}
	return f.cache.precached, nil
}

// Version returns the container format version.
func (f *File) Version() (uint32, error) {
	h, err := f.cachedHeader("version")
	if err != nil {
		return 0, err
	}
	return h.Version, nil
}

// HunkBytes returns the size of one decompressed hunk.
func (f *File) HunkBytes() (uint32, error) {
	h, err := f.cachedHeader("hunk bytes")
	if err != nil {
		return 0, err
	}
	return h.HunkBytes, nil
}

// HunkCount returns the number of hunks.
func (f *File) HunkCount() (uint32, error) {
	h, err := f.cachedHeader("hunk count")
	if err != nil {
		return 0, err
	}
	return h.HunkCount, nil
}

// UnitBytes returns the size of one unit.
func (f *File) UnitBytes() (uint32, error) {
	h, err := f.cachedHeader("unit bytes")
	if err != nil {
		return 0, err
	}
	return h.UnitBytes, nil
}

// UnitCount returns the number of units.
func (f *File) UnitCount() (uint64, error) {
	h, err := f.cachedHeader("unit count")
	if err != nil {
		return 0, err
	}
	return h.UnitCount, nil
}

// LogicalBytes returns the logical size in bytes.
func (f *File) LogicalBytes() (uint64, error) {
	h, err := f.cachedHeader("logical bytes")
	if err != nil {
		return 0, err
	}
	return h.LogicalBytes, nil
}
