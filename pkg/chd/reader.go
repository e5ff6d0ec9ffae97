package chd

import (
	"io"
)

// ReadUnit returns the unit at index u.
func (f *File) ReadUnit(u uint64) ([]byte, error) {
	const op = "read unit"
	if err := f.check(op); err != nil {
		return nil, err
	}
	raw := f.raw
	hunk := u / uint64(f.unitsPerHunk)
	if hunk >= uint64(raw.TotalHunks) || u >= raw.UnitCount {
		return nil, outOfRange(op, u, raw.UnitCount)
	}
	if err := f.cache.ensure(op, uint32(hunk)); err != nil {
		return nil, err
	}
	off := (u % uint64(f.unitsPerHunk)) * uint64(raw.UnitBytes)
	out := make([]byte, raw.UnitBytes)
	copy(out, f.cache.buf[off:])
	return out, nil
}

// ReadHunk returns a copy of hunk index.
func (f *File) ReadHunk(index uint32) ([]byte, error) {
	const op = "read hunk"
	if err := f.check(op); err != nil {
		return nil, err
	}
	out := make([]byte, f.raw.HunkBytes)
	if err := f.readHunkInto(op, index, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadHunkInto decompresses hunk index into dst, which must hold at least
// one hunk. The hunk cache is only consulted, never refilled.
func (f *File) ReadHunkInto(index uint32, dst []byte) error {
	const op = "read hunk"
	if err := f.check(op); err != nil {
		return err
	}
	if len(dst) < int(f.raw.HunkBytes) {
		e := newError(KindInvalidArgument, op)
		e.Err = io.ErrShortBuffer
		return e
	}
	return f.readHunkInto(op, index, dst[:f.raw.HunkBytes])
}

func (f *File) readHunkInto(op string, index uint32, dst []byte) error {
	if index >= f.raw.TotalHunks {
		return outOfRange(op, uint64(index), uint64(f.raw.TotalHunks))
	}
	return f.cache.readFull(op, index, dst)
}

// ReadBytes returns size bytes of logical content starting at offset. The
// range must lie within the logical size. A failure in any hunk fails the
// whole read.
func (f *File) ReadBytes(offset, size uint64) ([]byte, error) {
	const op = "read bytes"
	if err := f.check(op); err != nil {
		return nil, err
	}
	logical := f.raw.LogicalBytes
	if offset > logical || size > logical-offset {
		return nil, outOfRange(op, offset+size, logical)
	}
	if size > uint64(int(^uint(0)>>1)) {
		return nil, newError(KindAllocationFailure, op)
	}
	out := make([]byte, size)
	if err := f.readRange(op, offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readRange fills dst from logical offset. Hunks wholly covered by dst and
// not currently cached are decompressed straight into dst; partial hunks
// go through the cache.
func (f *File) readRange(op string, offset uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	hunkBytes := uint64(f.raw.HunkBytes)
	last := offset + uint64(len(dst)) - 1
	firstHunk := offset / hunkBytes
	lastHunk := last / hunkBytes
	if lastHunk >= uint64(f.raw.TotalHunks) {
		return outOfRange(op, lastHunk, uint64(f.raw.TotalHunks))
	}

	pos := uint64(0)
	for h := firstHunk; h <= lastHunk; h++ {
		start := uint64(0)
		if h == firstHunk {
			start = offset % hunkBytes
		}
		end := hunkBytes - 1
		if h == lastHunk {
			end = last % hunkBytes
		}
		span := dst[pos : pos+end-start+1]

		index := uint32(h)
		if start == 0 && end == hunkBytes-1 && !f.cache.holds(index) {
			if err := f.cache.readFull(op, index, span); err != nil {
				return err
			}
		} else {
			if err := f.cache.ensure(op, index); err != nil {
				return err
			}
			copy(span, f.cache.buf[start:end+1])
		}
		pos += end - start + 1
	}
	return nil
}

// ReadAt implements io.ReaderAt over the logical content. Unlike most
// ReaderAt implementations it must not be called concurrently.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	const op = "read at"
	if err := f.check(op); err != nil {
		return 0, err
	}
	if off < 0 {
		e := newError(KindInvalidArgument, op)
		e.Err = errNegativeOffset
		return 0, e
	}
	logical := f.raw.LogicalBytes
	if uint64(off) >= logical {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := min(uint64(len(p)), logical-uint64(off))
	if err := f.readRange(op, uint64(off), p[:n]); err != nil {
		return 0, err
	}
	if n < uint64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Size returns the logical size in bytes, or 0 once closed.
func (f *File) Size() int64 {
	if f.Closed() {
		return 0
	}
	return clampInt64(f.raw.LogicalBytes)
}
