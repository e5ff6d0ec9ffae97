// Package libchd decodes MAME "Compressed Hunks of Data" containers.
//
// It reads header versions 1 through 5, resolves self and parent hunk
// references, and decodes the zlib, zstd, lzma and huff codecs along with
// the zlib, lzma and zstd variants for CD frames. Every failure is reported
// as a Status.
package libchd

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"
)

// Mode selects how a file is opened.
type Mode int

const (
	ReadOnly  Mode = 1
	ReadWrite Mode = 2
)

// maxRefDepth bounds chains of self-referencing hunks.
const maxRefDepth = 16

// File is an open CHD. It is safe for concurrent use.
type File struct {
	mu      sync.Mutex
	src     *source
	header  Header
	parent  *File
	entries []mapEntry
	scratch []byte

	codecs      [4]decompressor
	unsupported [4]bool // declared codecs without a decoder
}

// Open opens the CHD at path. A missing file fails with StatusFileNotFound.
// The parent, when given, must stay open for the lifetime of the child.
func Open(path string, mode Mode, parent *File) (*File, error) {
	src, err := openPath(path)
	if err != nil {
		return nil, err
	}
	f, err := open(src, mode, parent)
	if err != nil {
		_ = src.close()
		return nil, err
	}
	return f, nil
}

// OpenReaderAt opens a CHD stored in r. Closing the File does not close r.
func OpenReaderAt(r io.ReaderAt, size int64, mode Mode, parent *File) (*File, error) {
	if r == nil || size < 0 {
		return nil, StatusInvalidParameter
	}
	return open(newSource(r, size), mode, parent)
}

// ReadHeader decodes and validates the header of the CHD at path without
// loading its hunk map or requiring its parent.
func ReadHeader(path string) (*Header, error) {
	src, err := openPath(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.close() }()
	return readHeader(src)
}

// ReadHeaderAt is ReadHeader for a CHD stored in r.
func ReadHeaderAt(r io.ReaderAt, size int64) (*Header, error) {
	if r == nil || size < 0 {
		return nil, StatusInvalidParameter
	}
	return readHeader(newSource(r, size))
}

func readHeader(src *source) (*Header, error) {
	raw := make([]byte, min(int64(MaxHeaderSize), src.size))
	if err := src.readAt(raw, 0); err != nil {
		return nil, err
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	if h.Version < 5 {
		h.UnitBytes = guessUnitBytes(src, h)
		if h.UnitBytes == 0 {
			return nil, StatusInvalidData
		}
		h.UnitCount = (h.LogicalBytes + uint64(h.UnitBytes) - 1) / uint64(h.UnitBytes)
	}
	return h, nil
}

func open(src *source, mode Mode, parent *File) (*File, error) {
	if mode != ReadOnly && mode != ReadWrite {
		return nil, StatusInvalidParameter
	}
	h, err := readHeader(src)
	if err != nil {
		return nil, err
	}

	if mode == ReadWrite {
		if h.Flags&FlagIsWriteable == 0 {
			return nil, StatusFileNotWriteable
		}
		return nil, StatusNotSupported
	}

	if parent == nil && h.HasParent() {
		return nil, StatusRequiresParent
	}
	if parent != nil {
		if err := checkParent(h, parent.Header()); err != nil {
			return nil, err
		}
	}

	f := &File{src: src, header: *h, parent: parent}
	for i, c := range h.Compression {
		if h.Version < 5 && i > 0 {
			break
		}
		if c == CodecNone {
			continue
		}
		dec, ok := newDecompressor(h.Version, c, h.HunkBytes)
		f.codecs[i] = dec
		f.unsupported[i] = !ok
	}

	switch {
	case h.Version < 5:
		f.entries, err = readLegacyMap(src, h)
	case h.Compression[0] == CodecNone:
		f.entries, err = readV5UncompressedMap(src, h)
	default:
		f.entries, err = readV5CompressedMap(src, h)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func checkParent(h, ph *Header) error {
	if !isZero(h.ParentMD5[:]) && !isZero(ph.MD5[:]) && h.ParentMD5 != ph.MD5 {
		return StatusInvalidParent
	}
	if !isZero(h.ParentSHA1[:]) && !isZero(ph.SHA1[:]) && h.ParentSHA1 != ph.SHA1 {
		return StatusInvalidParent
	}
	if h.Version >= 5 && h.HasParent() && ph.HunkBytes != h.HunkBytes {
		return StatusInvalidParent
	}
	return nil
}

// Header returns a copy of the decoded header.
func (f *File) Header() *Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.header
	return &h
}

// ReadHunk decodes hunk index into dst, which must hold at least one hunk.
func (f *File) ReadHunk(index uint32, dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src == nil {
		return StatusInvalidParameter
	}
	if index >= f.header.TotalHunks {
		return StatusHunkOutOfRange
	}
	if len(dst) < int(f.header.HunkBytes) {
		return StatusInvalidParameter
	}
	return f.readHunk(index, dst[:f.header.HunkBytes], 0)
}

func (f *File) readHunk(index uint32, dst []byte, depth int) error {
	if index >= uint32(len(f.entries)) {
		return StatusHunkOutOfRange
	}
	e := f.entries[index]
	switch e.kind {
	case entryCompressed:
		dec := f.codecs[e.codec]
		if dec == nil {
			if f.unsupported[e.codec] {
				return StatusCodecError
			}
			return StatusInvalidData
		}
		buf := f.compressedBuffer(int(e.length))
		if err := f.src.readAt(buf, int64(e.offset)); err != nil {
			return err
		}
		if err := dec.decompress(buf, dst); err != nil {
			return err
		}
		return f.checkCRC(e, dst)

	case entryUncompressed:
		if e.length != f.header.HunkBytes {
			return StatusInvalidData
		}
		if err := f.src.readAt(dst, int64(e.offset)); err != nil {
			return err
		}
		return f.checkCRC(e, dst)

	case entryMini:
		var pattern [8]byte
		binary.BigEndian.PutUint64(pattern[:], e.offset)
		for i := range dst {
			dst[i] = pattern[i%8]
		}
		return nil

	case entrySelf:
		if depth >= maxRefDepth || e.offset == uint64(index) {
			return StatusInvalidData
		}
		if e.offset >= uint64(len(f.entries)) {
			return StatusHunkOutOfRange
		}
		return f.readHunk(uint32(e.offset), dst, depth+1)

	case entryParentHunk:
		if f.parent == nil {
			return StatusRequiresParent
		}
		if e.offset > uint64(^uint32(0)) {
			return StatusHunkOutOfRange
		}
		return f.parent.ReadHunk(uint32(e.offset), dst)

	case entryParentUnit:
		return f.readParentUnits(e.offset, dst)

	case entryUnmapped:
		if f.parent != nil {
			return f.parent.ReadHunk(index, dst)
		}
		clear(dst)
		return nil
	}
	return StatusInvalidData
}

// readParentUnits copies one hunk's worth of parent data starting at unit.
// An unaligned start spans two parent hunks.
func (f *File) readParentUnits(unit uint64, dst []byte) error {
	if f.parent == nil {
		return StatusRequiresParent
	}
	unitBytes := uint64(f.header.UnitBytes)
	perHunk := uint64(f.header.HunkBytes) / unitBytes
	if perHunk == 0 {
		return StatusInvalidData
	}
	first := unit / perHunk
	if first+1 > uint64(^uint32(0)) {
		return StatusHunkOutOfRange
	}
	within := unit % perHunk
	if within == 0 {
		return f.parent.ReadHunk(uint32(first), dst)
	}

	buf := make([]byte, len(dst))
	if err := f.parent.ReadHunk(uint32(first), buf); err != nil {
		return err
	}
	head := (perHunk - within) * unitBytes
	copy(dst, buf[within*unitBytes:within*unitBytes+head])
	if err := f.parent.ReadHunk(uint32(first+1), buf); err != nil {
		return err
	}
	copy(dst[head:], buf[:within*unitBytes])
	return nil
}

func (f *File) compressedBuffer(n int) []byte {
	if cap(f.scratch) < n {
		f.scratch = make([]byte, n)
	}
	return f.scratch[:n]
}

func (f *File) checkCRC(e mapEntry, data []byte) error {
	if !e.hasCRC {
		return nil
	}
	if e.crc16 {
		if uint32(CRC16(data)) != e.crc {
			return StatusDecompressionError
		}
		return nil
	}
	if crc32.ChecksumIEEE(data) != e.crc {
		return StatusDecompressionError
	}
	return nil
}

// Metadata copies the index'th entry matching tag into dst. It returns the
// entry's full length, which may exceed len(dst), along with its tag and
// flags. Tag MetadataWildcard matches any entry.
func (f *File) Metadata(tag, index uint32, dst []byte) (length, resultTag uint32, flags uint8, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src == nil {
		return 0, 0, 0, StatusInvalidParameter
	}
	return readMetadata(f.src, &f.header, tag, index, dst)
}

// Precache loads the whole container into memory.
func (f *File) Precache() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src == nil {
		return StatusInvalidParameter
	}
	return f.src.precache()
}

// Close releases the file. It does not close the parent. Closing twice is a
// no-op.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src == nil {
		return nil
	}
	err := f.src.close()
	f.src = nil
	f.entries = nil
	f.scratch = nil
	f.parent = nil
	if err != nil {
		return StatusReadError
	}
	return nil
}
