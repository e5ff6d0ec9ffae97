package chd

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

func openFake(t *testing.T, e *fakeEngine) *File {
	t.Helper()
	f := &File{}
	if err := f.Init(PathSource("fake.chd"), &Options{Engine: e, Logger: &recordingWarner{}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %v, got %v (%v)", kind, got, err)
	}
}

func TestReadUnitMatchesReadBytes(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 200)
	f := openFake(t, e)

	for u := uint64(0); u < 200/8; u++ {
		unit, err := f.ReadUnit(u)
		if err != nil {
			t.Fatalf("read unit %d: %v", u, err)
		}
		if len(unit) != 8 {
			t.Fatalf("unit %d length: got %d want 8", u, len(unit))
		}
		want, err := f.ReadBytes(u*8, 8)
		if err != nil {
			t.Fatalf("read bytes for unit %d: %v", u, err)
		}
		if !bytes.Equal(unit, want) {
			t.Fatalf("unit %d mismatch", u)
		}
		if !bytes.Equal(unit, e.data[u*8:u*8+8]) {
			t.Fatalf("unit %d does not match source", u)
		}
	}
}

func TestReadBytesSplitComposition(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(16, 4, 100)
	f := openFake(t, e)

	for offset := uint64(0); offset < 100; offset += 7 {
		for size := uint64(1); offset+size <= 100; size += 5 {
			whole, err := f.ReadBytes(offset, size)
			if err != nil {
				t.Fatalf("read %d+%d: %v", offset, size, err)
			}
			if !bytes.Equal(whole, e.data[offset:offset+size]) {
				t.Fatalf("read %d+%d does not match source", offset, size)
			}
			for k := uint64(1); k < size; k += 3 {
				a, err := f.ReadBytes(offset, k)
				if err != nil {
					t.Fatalf("read head: %v", err)
				}
				b, err := f.ReadBytes(offset+k, size-k)
				if err != nil {
					t.Fatalf("read tail: %v", err)
				}
				if !bytes.Equal(append(a, b...), whole) {
					t.Fatalf("split %d+%d at %d differs", offset, size, k)
				}
			}
		}
	}
}

func TestRepeatedReadsAreIdempotent(t *testing.T) {
	t.Parallel()

	f := openFake(t, newFakeEngine(64, 16, 640))

	first, err := f.ReadBytes(50, 200)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	unit, err := f.ReadUnit(3)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	for _, h := range []uint32{9, 0, 4} {
		if _, err := f.ReadHunk(h); err != nil {
			t.Fatalf("read hunk %d: %v", h, err)
		}
		if _, err := f.ReadUnit(uint64(h) * 4); err != nil {
			t.Fatalf("read unit in hunk %d: %v", h, err)
		}
		again, err := f.ReadBytes(50, 200)
		if err != nil {
			t.Fatalf("read again: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("range changed after touching hunk %d", h)
		}
		unitAgain, err := f.ReadUnit(3)
		if err != nil {
			t.Fatalf("read unit again: %v", err)
		}
		if !bytes.Equal(unit, unitAgain) {
			t.Fatalf("unit changed after touching hunk %d", h)
		}
	}
}

func TestReadHunkServesCachedHunk(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 128)
	f := openFake(t, e)

	if _, err := f.ReadUnit(9); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if got := e.readCount(); got != 1 {
		t.Fatalf("expected 1 decompression, got %d", got)
	}
	hunk, err := f.ReadHunk(2)
	if err != nil {
		t.Fatalf("read hunk: %v", err)
	}
	if got := e.readCount(); got != 1 {
		t.Fatalf("cached hunk was decompressed again (%d calls)", got)
	}
	if !bytes.Equal(hunk, e.data[64:96]) {
		t.Fatalf("cached hunk content mismatch")
	}

	// Other units of the cached hunk are hits as well.
	if _, err := f.ReadUnit(10); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if got := e.readCount(); got != 1 {
		t.Fatalf("unit in cached hunk caused a decompression (%d calls)", got)
	}
}

func TestWholeHunkReadsBypassCache(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 128)
	f := openFake(t, e)

	if _, err := f.ReadUnit(0); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	// Hunks 1 and 2 are fully covered and go straight to the destination.
	if _, err := f.ReadBytes(32, 64); err != nil {
		t.Fatalf("read bytes: %v", err)
	}
	if got := e.readCount(); got != 3 {
		t.Fatalf("expected 3 decompressions, got %d", got)
	}
	if !f.cache.holds(0) {
		t.Fatalf("direct reads must not replace the cached hunk")
	}

	// A partial read fills the cache; a whole-hunk read of it is then a hit.
	if _, err := f.ReadBytes(40, 4); err != nil {
		t.Fatalf("partial read: %v", err)
	}
	if got := e.readCount(); got != 4 {
		t.Fatalf("expected 4 decompressions, got %d", got)
	}
	got, err := f.ReadBytes(32, 32)
	if err != nil {
		t.Fatalf("whole hunk read: %v", err)
	}
	if n := e.readCount(); n != 4 {
		t.Fatalf("whole read of cached hunk decompressed again (%d calls)", n)
	}
	if !bytes.Equal(got, e.data[32:64]) {
		t.Fatalf("content mismatch")
	}
}

func TestFailedFillInvalidatesCache(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(16, 16, 64)
	f := openFake(t, e)

	if _, err := f.ReadUnit(1); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	e.setFailure(1, libchd.StatusDecompressionError)
	_, err := f.ReadUnit(1)
	// Unit 1 is already cached, so the failure is not reached yet.
	if err != nil {
		t.Fatalf("cached unit should not hit the engine: %v", err)
	}

	_, err = f.ReadUnit(2)
	if err != nil {
		t.Fatalf("read unit 2: %v", err)
	}
	e.setFailure(1, libchd.StatusDecompressionError)
	_, err = f.ReadUnit(1)
	wantKind(t, err, KindIOFailure)
	if !errors.Is(err, libchd.StatusDecompressionError) || !errors.Is(err, ErrIOFailure) {
		t.Fatalf("error should wrap the engine status and kind: %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Index != 1 {
		t.Fatalf("error should carry the hunk index: %+v", ce)
	}
	if f.cache.valid {
		t.Fatalf("cache must be empty after a failed fill")
	}

	e.setFailure(1, nil)
	before := e.readCount()
	unit, err := f.ReadUnit(2)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if e.readCount() != before+1 {
		t.Fatalf("stale cache served after failure")
	}
	if !bytes.Equal(unit, e.data[32:48]) {
		t.Fatalf("retry returned wrong data")
	}
}

func TestReadBytesFailureReturnsNothing(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(16, 4, 80)
	e.setFailure(2, libchd.StatusReadError)
	f := openFake(t, e)

	got, err := f.ReadBytes(5, 60)
	wantKind(t, err, KindIOFailure)
	if got != nil {
		t.Fatalf("partial result returned: %d bytes", len(got))
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Index != 2 {
		t.Fatalf("expected failing hunk 2, got %+v", ce)
	}
}

func TestOutOfRange(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 100)
	f := openFake(t, e)
	h, err := f.Header()
	if err != nil {
		t.Fatalf("header: %v", err)
	}

	_, err = f.ReadHunk(h.HunkCount)
	wantKind(t, err, KindOutOfRange)
	_, err = f.ReadUnit(h.UnitCount)
	wantKind(t, err, KindOutOfRange)
	_, err = f.ReadBytes(h.LogicalBytes, 1)
	wantKind(t, err, KindOutOfRange)
	_, err = f.ReadBytes(90, 11)
	wantKind(t, err, KindOutOfRange)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("errors.Is should match the sentinel")
	}
	_, err = f.ReadBytes(^uint64(0), 2)
	wantKind(t, err, KindOutOfRange)

	empty, err := f.ReadBytes(h.LogicalBytes, 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty read at end: %v len=%d", err, len(empty))
	}
	if e.readCount() != 0 {
		t.Fatalf("rejected reads reached the engine")
	}

	// The last unit is short of a full hunk but still readable.
	last, err := f.ReadUnit(h.UnitCount - 1)
	if err != nil || len(last) != 8 {
		t.Fatalf("last unit: %v len=%d", err, len(last))
	}
}

func TestReadBytesPastLastHunk(t *testing.T) {
	t.Parallel()

	// A logical size the hunk map cannot back: hunk 1<<32 must not wrap
	// around to hunk 0.
	e := newFakeEngine(16, 16, 32)
	e.header.LogicalBytes = 1 << 40
	f := openFake(t, e)

	_, err := f.ReadBytes(1<<36, 1)
	wantKind(t, err, KindOutOfRange)
	_, err = f.ReadBytes(16, 32)
	wantKind(t, err, KindOutOfRange)
	n, err := f.ReadAt(make([]byte, 1), 1<<36)
	wantKind(t, err, KindOutOfRange)
	if n != 0 || e.readCount() != 0 {
		t.Fatalf("rejected reads reached the engine: n=%d reads=%d", n, e.readCount())
	}

	if got, err := f.ReadBytes(0, 32); err != nil || len(got) != 32 {
		t.Fatalf("backed range: %v len=%d", err, len(got))
	}
}

func TestReadAt(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 100)
	f := openFake(t, e)

	got, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, e.data[:100]) {
		t.Fatalf("content mismatch")
	}

	p := make([]byte, 20)
	n, err := f.ReadAt(p, 90)
	if n != 10 || err != io.EOF {
		t.Fatalf("short read at end: n=%d err=%v", n, err)
	}
	if _, err := f.ReadAt(p, 100); err != io.EOF {
		t.Fatalf("read past end: %v", err)
	}
	_, err = f.ReadAt(p, -1)
	wantKind(t, err, KindInvalidArgument)
}

func TestReadHunkInto(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(32, 8, 100)
	f := openFake(t, e)

	err := f.ReadHunkInto(0, make([]byte, 8))
	wantKind(t, err, KindInvalidArgument)

	dst := make([]byte, 32)
	if err := f.ReadHunkInto(3, dst); err != nil {
		t.Fatalf("read hunk into: %v", err)
	}
	if !bytes.Equal(dst, e.data[96:128]) {
		t.Fatalf("content mismatch")
	}
	if f.cache.valid {
		t.Fatalf("direct hunk reads must not fill the cache")
	}
}
