package chd

import (
	"fmt"
	"sync"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

type fakeMeta struct {
	tag   uint32
	flags uint8
	data  []byte
}

// fakeEngine serves hunks from memory and counts decompression calls.
type fakeEngine struct {
	header  libchd.Header
	data    []byte
	metas   []fakeMeta
	openErr error

	mu        sync.Mutex
	opens     int
	closes    int
	reads     int
	metaCalls int
	precaches int
	fail      map[uint32]error
}

func newFakeEngine(hunkBytes, unitBytes uint32, logical uint64) *fakeEngine {
	hunks := uint32((logical + uint64(hunkBytes) - 1) / uint64(hunkBytes))
	data := make([]byte, uint64(hunks)*uint64(hunkBytes))
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	var units uint64
	if unitBytes != 0 {
		units = (logical + uint64(unitBytes) - 1) / uint64(unitBytes)
	}
	return &fakeEngine{
		header: libchd.Header{
			Version:      5,
			HunkBytes:    hunkBytes,
			TotalHunks:   hunks,
			HunkCount:    hunks,
			UnitBytes:    unitBytes,
			UnitCount:    units,
			LogicalBytes: logical,
		},
		data: data,
		fail: map[uint32]error{},
	}
}

func (e *fakeEngine) Open(src Source, mode Mode, parent Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opens++
	h := e.header
	return &fakeHandle{e: e, header: &h}, nil
}

func (e *fakeEngine) ReadHeader(path string) (*libchd.Header, error) {
	h := e.header
	return &h, nil
}

func (e *fakeEngine) setFailure(index uint32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.fail, index)
		return
	}
	e.fail[index] = err
}

func (e *fakeEngine) readCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads
}

type fakeHandle struct {
	e      *fakeEngine
	header *libchd.Header
	closed bool
}

func (h *fakeHandle) Header() *libchd.Header { return h.header }

func (h *fakeHandle) ReadHunk(index uint32, dst []byte) error {
	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.closed {
		return fmt.Errorf("fake handle used after close")
	}
	e.reads++
	if err, ok := e.fail[index]; ok {
		// A failing engine may leave garbage behind.
		for i := range dst {
			dst[i] = 0xee
		}
		return err
	}
	if index >= e.header.TotalHunks {
		return libchd.StatusHunkOutOfRange
	}
	hb := e.header.HunkBytes
	copy(dst, e.data[index*hb:(index+1)*hb])
	return nil
}

func (h *fakeHandle) Metadata(tag, index uint32, dst []byte) (uint32, uint32, uint8, error) {
	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metaCalls++
	for _, m := range e.metas {
		if tag != libchd.MetadataWildcard && m.tag != tag {
			continue
		}
		if index > 0 {
			index--
			continue
		}
		copy(dst, m.data)
		return uint32(len(m.data)), m.tag, m.flags, nil
	}
	return 0, 0, 0, libchd.StatusMetadataNotFound
}

func (h *fakeHandle) Precache() error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.e.precaches++
	return nil
}

func (h *fakeHandle) Close() error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.closed = true
	h.e.closes++
	return nil
}

type recordingWarner struct {
	mu   sync.Mutex
	msgs []string
}

func (w *recordingWarner) Warn(msg string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}
