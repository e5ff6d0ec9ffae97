package libchd_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/chdkit/internal/chdtest"
	"github.com/samcharles93/chdkit/pkg/libchd"
)

func openBytes(t *testing.T, b []byte, parent *libchd.File) *libchd.File {
	t.Helper()
	f, err := libchd.OpenReaderAt(bytes.NewReader(b), int64(len(b)), libchd.ReadOnly, parent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func readAllHunks(t *testing.T, f *libchd.File) []byte {
	t.Helper()
	h := f.Header()
	var out []byte
	buf := make([]byte, h.HunkBytes)
	for i := range h.TotalHunks {
		if err := f.ReadHunk(i, buf); err != nil {
			t.Fatalf("read hunk %d: %v", i, err)
		}
		out = append(out, buf...)
	}
	return out[:h.LogicalBytes]
}

func TestOpenV5Codecs(t *testing.T) {
	t.Parallel()

	data := append(chdtest.Pattern(3000, 1), bytes.Repeat([]byte{0x5a}, 2000)...)
	codecs := []uint32{libchd.CodecNone, libchd.CodecZlib, libchd.CodecZstd, libchd.CodecLZMA, libchd.CodecHuff}
	for _, codec := range codecs {
		t.Run(libchd.CodecName(5, codec), func(t *testing.T) {
			t.Parallel()
			img := chdtest.MustBuild(t, chdtest.Image{
				Version:    5,
				HunkBytes:  1024,
				UnitBytes:  512,
				Data:       data,
				Codec:      codec,
				ForceSlots: true,
			})
			f := openBytes(t, img, nil)
			h := f.Header()
			if h.Version != 5 || h.HunkBytes != 1024 || h.UnitBytes != 512 {
				t.Fatalf("unexpected header %+v", h)
			}
			if h.TotalHunks != 5 || h.UnitCount != 10 || h.LogicalBytes != 5000 {
				t.Fatalf("unexpected geometry: hunks=%d units=%d logical=%d", h.TotalHunks, h.UnitCount, h.LogicalBytes)
			}
			if got := readAllHunks(t, f); !bytes.Equal(got, data) {
				t.Fatalf("content mismatch")
			}
		})
	}
}

func TestOpenV5SelfReference(t *testing.T) {
	t.Parallel()

	first := chdtest.Pattern(256, 7)
	data := append(append([]byte{}, first...), chdtest.Pattern(256, 8)...)
	data = append(data, first...)
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:   5,
		HunkBytes: 256,
		UnitBytes: 64,
		Data:      data,
		Codec:     libchd.CodecZlib,
		Refs:      map[uint32]chdtest.Ref{2: {Kind: chdtest.RefSelf, Target: 0}},
	})
	f := openBytes(t, img, nil)
	if got := readAllHunks(t, f); !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}
}

func TestOpenV5ParentUnits(t *testing.T) {
	t.Parallel()

	parentData := chdtest.Pattern(256, 3)
	parentImg := chdtest.MustBuild(t, chdtest.Image{
		Version:   5,
		HunkBytes: 64,
		UnitBytes: 16,
		Data:      parentData,
		Codec:     libchd.CodecZlib,
	})
	parent := openBytes(t, parentImg, nil)

	childImg := chdtest.MustBuild(t, chdtest.Image{
		Version:   5,
		HunkBytes: 64,
		UnitBytes: 16,
		Data:      make([]byte, 128),
		Codec:     libchd.CodecZlib,
		Refs: map[uint32]chdtest.Ref{
			0: {Kind: chdtest.RefParent, Target: 4},
			1: {Kind: chdtest.RefParent, Target: 6},
		},
		ParentSHA1: chdtest.HeaderSHA1(parentImg),
	})

	if _, err := libchd.OpenReaderAt(bytes.NewReader(childImg), int64(len(childImg)), libchd.ReadOnly, nil); err != libchd.StatusRequiresParent {
		t.Fatalf("expected requires parent, got %v", err)
	}

	child := openBytes(t, childImg, parent)
	if !child.Header().HasParent() {
		t.Fatalf("child should report a parent")
	}
	buf := make([]byte, 64)
	if err := child.ReadHunk(0, buf); err != nil {
		t.Fatalf("read aligned hunk: %v", err)
	}
	if !bytes.Equal(buf, parentData[64:128]) {
		t.Fatalf("aligned parent hunk mismatch")
	}
	if err := child.ReadHunk(1, buf); err != nil {
		t.Fatalf("read unaligned hunk: %v", err)
	}
	if !bytes.Equal(buf, parentData[96:160]) {
		t.Fatalf("unaligned parent hunk mismatch")
	}
}

func TestOpenRejectsWrongParent(t *testing.T) {
	t.Parallel()

	other := chdtest.MustBuild(t, chdtest.Image{Version: 5, HunkBytes: 64, UnitBytes: 16, Data: chdtest.Pattern(64, 9), Codec: libchd.CodecZlib})
	parent := openBytes(t, other, nil)

	var wrong [20]byte
	wrong[0] = 1
	child := chdtest.MustBuild(t, chdtest.Image{
		Version:    5,
		HunkBytes:  64,
		UnitBytes:  16,
		Data:       make([]byte, 64),
		Codec:      libchd.CodecZlib,
		Refs:       map[uint32]chdtest.Ref{0: {Kind: chdtest.RefParent, Target: 0}},
		ParentSHA1: wrong,
	})
	_, err := libchd.OpenReaderAt(bytes.NewReader(child), int64(len(child)), libchd.ReadOnly, parent)
	if err != libchd.StatusInvalidParent {
		t.Fatalf("expected invalid parent, got %v", err)
	}
}

func TestOpenV5UnmappedHunkIsZero(t *testing.T) {
	t.Parallel()

	data := chdtest.Pattern(512, 4)
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:   5,
		HunkBytes: 256,
		UnitBytes: 256,
		Data:      data,
		Refs:      map[uint32]chdtest.Ref{1: {Kind: chdtest.RefUnmapped}},
	})
	f := openBytes(t, img, nil)
	buf := make([]byte, 256)
	if err := f.ReadHunk(1, buf); err != nil {
		t.Fatalf("read hunk: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, 256)) {
		t.Fatalf("unmapped hunk should read as zeros")
	}
}

func TestOpenV3WithMetadata(t *testing.T) {
	t.Parallel()

	data := append(chdtest.Pattern(1024, 5), make([]byte, 1024)...)
	gddd := []byte("CYLS:4,HEADS:1,SECS:1,BPS:512\x00")
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:   3,
		HunkBytes: 512,
		Data:      data,
		Codec:     libchd.CompressionZlib,
		Metadata: []chdtest.Meta{
			{Tag: libchd.MetaHardDisk, Flags: libchd.MetaFlagChecksum, Data: gddd},
			{Tag: libchd.MetaHardDiskIdent, Data: []byte("ident-0")},
			{Tag: libchd.MetaHardDiskIdent, Data: []byte("ident-1")},
		},
		Refs: map[uint32]chdtest.Ref{
			2: {Kind: chdtest.RefSelf, Target: 3},
		},
	})
	f := openBytes(t, img, nil)
	h := f.Header()
	if h.Version != 3 || h.UnitBytes != 512 || h.UnitCount != 4 {
		t.Fatalf("unexpected header %+v", h)
	}
	if got := readAllHunks(t, f); !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}

	buf := make([]byte, 4)
	n, tag, flags, err := f.Metadata(libchd.MetaHardDisk, 0, buf)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if n != uint32(len(gddd)) || tag != libchd.MetaHardDisk || flags != libchd.MetaFlagChecksum {
		t.Fatalf("unexpected metadata result n=%d tag=%#x flags=%d", n, tag, flags)
	}
	if string(buf) != "CYLS" {
		t.Fatalf("metadata should be truncated to the buffer, got %q", buf)
	}

	buf = make([]byte, 64)
	n, _, _, err = f.Metadata(libchd.MetaHardDiskIdent, 1, buf)
	if err != nil || string(buf[:n]) != "ident-1" {
		t.Fatalf("second ident: n=%d err=%v", n, err)
	}
	_, tag, _, err = f.Metadata(libchd.MetadataWildcard, 2, buf)
	if err != nil || tag != libchd.MetaHardDiskIdent {
		t.Fatalf("wildcard lookup: tag=%#x err=%v", tag, err)
	}
	if _, _, _, err := f.Metadata(libchd.MetaHardDiskIdent, 2, buf); err != libchd.StatusMetadataNotFound {
		t.Fatalf("expected metadata not found, got %v", err)
	}
}

func TestOpenV3CDGuessesFrameUnits(t *testing.T) {
	t.Parallel()

	img := chdtest.MustBuild(t, chdtest.Image{
		Version:   3,
		HunkBytes: libchd.CDFrameSize * 4,
		Data:      make([]byte, libchd.CDFrameSize*8),
		Metadata: []chdtest.Meta{
			{Tag: libchd.MetaCDROMTrack2, Data: []byte("TRACK:1 TYPE:MODE1 SUBTYPE:NONE FRAMES:8 PREGAP:0 PGTYPE:MODE1 PGSUB:NONE POSTGAP:0\x00")},
		},
	})
	f := openBytes(t, img, nil)
	if got := f.Header().UnitBytes; got != libchd.CDFrameSize {
		t.Fatalf("unit bytes: got %d want %d", got, libchd.CDFrameSize)
	}
}

func TestOpenV2SynthesisesGeometry(t *testing.T) {
	t.Parallel()

	data := chdtest.Pattern(2*2*4*256, 6)
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:     2,
		HunkBytes:   1024,
		Data:        data,
		Codec:       libchd.CompressionZlib,
		Cylinders:   2,
		Heads:       2,
		Sectors:     4,
		SectorBytes: 256,
	})
	f := openBytes(t, img, nil)
	h := f.Header()
	if h.UnitBytes != 256 || h.LogicalBytes != uint64(len(data)) {
		t.Fatalf("unexpected header %+v", h)
	}
	if got := readAllHunks(t, f); !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}

	buf := make([]byte, 64)
	n, tag, _, err := f.Metadata(libchd.MetaHardDisk, 0, buf)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if tag != libchd.MetaHardDisk || string(buf[:n]) != "CYLS:2,HEADS:2,SECS:4,BPS:256\x00" {
		t.Fatalf("unexpected geometry metadata %q", buf[:n])
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	good := chdtest.MustBuild(t, chdtest.Image{Version: 3, HunkBytes: 64, Data: chdtest.Pattern(128, 2)})
	writeable := chdtest.MustBuild(t, chdtest.Image{Version: 3, HunkBytes: 64, Data: chdtest.Pattern(128, 2), Writeable: true})

	badMagic := append([]byte{}, good...)
	copy(badMagic, "NotAChd!")
	badVersion := append([]byte{}, good...)
	badVersion[15] = 9
	v4Like := append([]byte{}, good...)
	v4Like[15] = 4

	cases := []struct {
		name string
		data []byte
		mode libchd.Mode
		want libchd.Status
	}{
		{"bad magic", badMagic, libchd.ReadOnly, libchd.StatusInvalidData},
		{"unsupported version", badVersion, libchd.ReadOnly, libchd.StatusUnsupportedVersion},
		{"length mismatch", v4Like, libchd.ReadOnly, libchd.StatusInvalidData},
		{"truncated", good[:40], libchd.ReadOnly, libchd.StatusInvalidData},
		{"read write on read only image", good, libchd.ReadWrite, libchd.StatusFileNotWriteable},
		{"read write on writeable image", writeable, libchd.ReadWrite, libchd.StatusNotSupported},
		{"bad mode", good, libchd.Mode(7), libchd.StatusInvalidParameter},
	}
	for _, tc := range cases {
		_, err := libchd.OpenReaderAt(bytes.NewReader(tc.data), int64(len(tc.data)), tc.mode, nil)
		if err != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestOpenDeclaredCodecsNotUsed(t *testing.T) {
	t.Parallel()

	// The default hard disk codec list; only the zlib slot carries hunks.
	data := append(chdtest.Pattern(2048, 3), bytes.Repeat([]byte{0x11}, 2048)...)
	slots := map[uint32]uint8{}
	for i := range uint32(4) {
		slots[i] = 1
	}
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:    5,
		HunkBytes:  1024,
		UnitBytes:  512,
		Data:       data,
		Codecs:     []uint32{libchd.CodecLZMA, libchd.CodecZlib, libchd.CodecHuff, libchd.CodecFLAC},
		Slots:      slots,
		ForceSlots: true,
	})
	f := openBytes(t, img, nil)
	h := f.Header()
	if h.Compression != [4]uint32{libchd.CodecLZMA, libchd.CodecZlib, libchd.CodecHuff, libchd.CodecFLAC} {
		t.Fatalf("codec list: %x", h.Compression)
	}
	if got := readAllHunks(t, f); !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}
}

func TestUnsupportedCodecFailsOnRead(t *testing.T) {
	t.Parallel()

	data := chdtest.Pattern(128, 4)
	img := chdtest.MustBuild(t, chdtest.Image{
		Version:    5,
		HunkBytes:  64,
		UnitBytes:  64,
		Data:       data,
		Codecs:     []uint32{libchd.CodecZlib, libchd.CodecFLAC},
		Slots:      map[uint32]uint8{1: 1},
		ForceSlots: true,
	})
	f := openBytes(t, img, nil)

	buf := make([]byte, 64)
	if err := f.ReadHunk(0, buf); err != nil || !bytes.Equal(buf, data[:64]) {
		t.Fatalf("zlib hunk: %v", err)
	}
	if err := f.ReadHunk(1, buf); err != libchd.StatusCodecError {
		t.Fatalf("expected codec error, got %v", err)
	}
}

func TestOpenV5CDCodecs(t *testing.T) {
	t.Parallel()

	const frameBytes = 2448
	data := chdtest.Pattern(frameBytes*8, 5)
	for _, codec := range []uint32{libchd.CodecCDZlib, libchd.CodecCDLZMA, libchd.CodecCDZstd} {
		t.Run(libchd.CodecName(5, codec), func(t *testing.T) {
			t.Parallel()
			img := chdtest.MustBuild(t, chdtest.Image{
				Version:    5,
				HunkBytes:  frameBytes * 4,
				UnitBytes:  frameBytes,
				Data:       data,
				Codecs:     []uint32{codec, libchd.CodecCDFLAC},
				ForceSlots: true,
			})
			f := openBytes(t, img, nil)
			if got := readAllHunks(t, f); !bytes.Equal(got, data) {
				t.Fatalf("content mismatch")
			}
		})
	}
}

func TestOpenRejectsOversizedGeometry(t *testing.T) {
	t.Parallel()

	v3 := chdtest.MustBuild(t, chdtest.Image{Version: 3, HunkBytes: 64, Data: chdtest.Pattern(128, 6)})
	hugeMap := append([]byte{}, v3...)
	binary.BigEndian.PutUint32(hugeMap[24:], libchd.MaxHunks)
	binary.BigEndian.PutUint64(hugeMap[28:], 128)
	unbacked := append([]byte{}, v3...)
	binary.BigEndian.PutUint64(unbacked[28:], 1<<40)

	flat := chdtest.MustBuild(t, chdtest.Image{Version: 5, HunkBytes: 64, UnitBytes: 64, Data: chdtest.Pattern(128, 6)})
	binary.BigEndian.PutUint64(flat[32:], 64<<25)
	coded := chdtest.MustBuild(t, chdtest.Image{Version: 5, HunkBytes: 64, UnitBytes: 64, Data: chdtest.Pattern(128, 6), Codec: libchd.CodecZlib})
	binary.BigEndian.PutUint64(coded[32:], 64<<25)

	cases := map[string][]byte{
		"v3 map larger than file":      hugeMap,
		"v3 logical size beyond hunks": unbacked,
		"v5 flat map larger than file": flat,
		"v5 coded map too small":       coded,
	}
	for name, img := range cases {
		_, err := libchd.OpenReaderAt(bytes.NewReader(img), int64(len(img)), libchd.ReadOnly, nil)
		if err != libchd.StatusInvalidFile {
			t.Fatalf("%s: got %v want %v", name, err, libchd.StatusInvalidFile)
		}
	}
}

func TestReadHunkErrors(t *testing.T) {
	t.Parallel()

	data := chdtest.Pattern(128, 11)
	img := chdtest.MustBuild(t, chdtest.Image{Version: 3, HunkBytes: 64, Data: data})
	f := openBytes(t, img, nil)

	buf := make([]byte, 64)
	if err := f.ReadHunk(2, buf); err != libchd.StatusHunkOutOfRange {
		t.Fatalf("expected hunk out of range, got %v", err)
	}
	if err := f.ReadHunk(0, buf[:10]); err != libchd.StatusInvalidParameter {
		t.Fatalf("expected invalid parameter for short buffer, got %v", err)
	}

	// Hunk 0 is stored raw right after the map and its end cookie.
	corrupt := append([]byte{}, img...)
	corrupt[libchd.V3HeaderSize+3*16] ^= 0xff
	cf := openBytes(t, corrupt, nil)
	if err := cf.ReadHunk(0, buf); err != libchd.StatusDecompressionError {
		t.Fatalf("expected checksum failure, got %v", err)
	}
	if err := cf.ReadHunk(1, buf); err != nil {
		t.Fatalf("untouched hunk should still read: %v", err)
	}
}

func TestOpenPathPrecacheAndClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := chdtest.Pattern(4096, 12)
	path := chdtest.WriteFile(t, dir, "disk.chd", chdtest.Image{Version: 5, HunkBytes: 1024, UnitBytes: 512, Data: data, Codec: libchd.CodecZstd})

	if _, err := libchd.Open(filepath.Join(dir, "missing.chd"), libchd.ReadOnly, nil); err != libchd.StatusFileNotFound {
		t.Fatalf("expected file not found, got %v", err)
	}
	// ENOTDIR is a read error, not a missing file.
	if _, err := libchd.Open(filepath.Join(path, "child.chd"), libchd.ReadOnly, nil); err != libchd.StatusReadError {
		t.Fatalf("expected read error, got %v", err)
	}

	f, err := libchd.Open(path, libchd.ReadOnly, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Precache(); err != nil {
		t.Fatalf("precache: %v", err)
	}
	// The image stays readable from memory once precached.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := readAllHunks(t, f); !bytes.Equal(got, data) {
		t.Fatalf("content mismatch after precache")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := f.ReadHunk(0, make([]byte, 1024)); err != libchd.StatusInvalidParameter {
		t.Fatalf("read after close: got %v", err)
	}
}

func TestReadHeaderWithoutParent(t *testing.T) {
	t.Parallel()

	var sha [20]byte
	sha[3] = 0x42
	path := chdtest.WriteFile(t, t.TempDir(), "child.chd", chdtest.Image{
		Version:    5,
		HunkBytes:  64,
		UnitBytes:  16,
		Data:       make([]byte, 64),
		Codec:      libchd.CodecZlib,
		Refs:       map[uint32]chdtest.Ref{0: {Kind: chdtest.RefParent, Target: 0}},
		ParentSHA1: sha,
	})
	h, err := libchd.ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if !h.HasParent() || h.ParentSHA1 != sha {
		t.Fatalf("unexpected parent fields: %+v", h)
	}
	if _, err := libchd.Open(path, libchd.ReadOnly, nil); err != libchd.StatusRequiresParent {
		t.Fatalf("expected requires parent, got %v", err)
	}
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	if got := libchd.StatusHunkOutOfRange.Error(); got != "hunk out of range" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := libchd.Status(99).Error(); got != "undocumented error (99)" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := libchd.TagString(libchd.MetaCDROMTrack2); got != "CHT2" {
		t.Fatalf("tag string: %q", got)
	}
	if libchd.MakeTag("GDDD") != libchd.MetaHardDisk {
		t.Fatalf("make tag mismatch")
	}
}
