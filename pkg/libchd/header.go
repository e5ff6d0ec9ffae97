package libchd

import (
	"encoding/binary"
	"fmt"
)

const (
	V1HeaderSize = 76
	V2HeaderSize = 80
	V3HeaderSize = 120
	V4HeaderSize = 108
	V5HeaderSize = 124

	MaxHeaderSize = V5HeaderSize
	HeaderVersion = 5
)

const Magic = "MComprHD"

const (
	FlagHasParent   = 0x00000001
	FlagIsWriteable = 0x00000002
	flagsUndefined  = 0xfffffffc
)

// Compression schemes used by v1-v4 files.
const (
	CompressionNone     = 0
	CompressionZlib     = 1
	CompressionZlibPlus = 2
	CompressionAV       = 3
)

// Codec tags used by v5 files.
const (
	CodecNone   = 0
	CodecZlib   = 0x7a6c6962 // zlib
	CodecLZMA   = 0x6c7a6d61 // lzma
	CodecHuff   = 0x68756666 // huff
	CodecFLAC   = 0x666c6163 // flac
	CodecZstd   = 0x7a737464 // zstd
	CodecCDZlib = 0x63647a6c // cdzl
	CodecCDLZMA = 0x63646c7a // cdlz
	CodecCDFLAC = 0x6364666c // cdfl
	CodecCDZstd = 0x63647a73 // cdzs
	CodecAVHuff = 0x61766875 // avhu
)

// Header is the decoded container header. Fields that a given version does
// not carry are zero.
type Header struct {
	Length        uint32
	Version       uint32
	Flags         uint32
	Compression   [4]uint32
	HunkBytes     uint32
	TotalHunks    uint32
	LogicalBytes  uint64
	MetaOffset    uint64
	MapOffset     uint64
	MD5           [16]byte
	ParentMD5     [16]byte
	SHA1          [20]byte
	RawSHA1       [20]byte
	ParentSHA1    [20]byte
	UnitBytes     uint32
	UnitCount     uint64
	HunkCount     uint32
	MapEntryBytes uint32

	// v1/v2 geometry.
	ObsoleteCylinders uint32
	ObsoleteSectors   uint32
	ObsoleteHeads     uint32
	ObsoleteHunkSize  uint32
}

// HasParent reports whether the file stores only deltas against a parent.
func (h *Header) HasParent() bool {
	return h.Flags&FlagHasParent != 0
}

func decodeHeader(raw []byte) (*Header, error) {
	if len(raw) < 16 || string(raw[:8]) != Magic {
		return nil, StatusInvalidData
	}
	be := binary.BigEndian
	h := &Header{
		Length:  be.Uint32(raw[8:]),
		Version: be.Uint32(raw[12:]),
	}
	if h.Version == 0 || h.Version > HeaderVersion {
		return nil, StatusUnsupportedVersion
	}
	want := [...]uint32{0, V1HeaderSize, V2HeaderSize, V3HeaderSize, V4HeaderSize, V5HeaderSize}[h.Version]
	if h.Length != want || len(raw) < int(want) {
		return nil, StatusInvalidData
	}

	switch h.Version {
	case 1, 2:
		h.Flags = be.Uint32(raw[16:])
		h.Compression[0] = be.Uint32(raw[20:])
		h.ObsoleteHunkSize = be.Uint32(raw[24:])
		h.TotalHunks = be.Uint32(raw[28:])
		h.ObsoleteCylinders = be.Uint32(raw[32:])
		h.ObsoleteHeads = be.Uint32(raw[36:])
		h.ObsoleteSectors = be.Uint32(raw[40:])
		copy(h.MD5[:], raw[44:60])
		copy(h.ParentMD5[:], raw[60:76])
		secLen := uint32(512)
		if h.Version == 2 {
			secLen = be.Uint32(raw[76:])
		}
		h.HunkBytes = secLen * h.ObsoleteHunkSize
		h.LogicalBytes = uint64(h.ObsoleteCylinders) * uint64(h.ObsoleteHeads) *
			uint64(h.ObsoleteSectors) * uint64(secLen)
		h.MapEntryBytes = 8
	case 3:
		h.Flags = be.Uint32(raw[16:])
		h.Compression[0] = be.Uint32(raw[20:])
		h.TotalHunks = be.Uint32(raw[24:])
		h.LogicalBytes = be.Uint64(raw[28:])
		h.MetaOffset = be.Uint64(raw[36:])
		copy(h.MD5[:], raw[44:60])
		copy(h.ParentMD5[:], raw[60:76])
		h.HunkBytes = be.Uint32(raw[76:])
		copy(h.SHA1[:], raw[80:100])
		copy(h.ParentSHA1[:], raw[100:120])
		h.MapEntryBytes = 16
	case 4:
		h.Flags = be.Uint32(raw[16:])
		h.Compression[0] = be.Uint32(raw[20:])
		h.TotalHunks = be.Uint32(raw[24:])
		h.LogicalBytes = be.Uint64(raw[28:])
		h.MetaOffset = be.Uint64(raw[36:])
		h.HunkBytes = be.Uint32(raw[44:])
		copy(h.SHA1[:], raw[48:68])
		copy(h.ParentSHA1[:], raw[68:88])
		copy(h.RawSHA1[:], raw[88:108])
		h.MapEntryBytes = 16
	case 5:
		for i := range h.Compression {
			h.Compression[i] = be.Uint32(raw[16+4*i:])
		}
		h.LogicalBytes = be.Uint64(raw[32:])
		h.MapOffset = be.Uint64(raw[40:])
		h.MetaOffset = be.Uint64(raw[48:])
		h.HunkBytes = be.Uint32(raw[56:])
		h.UnitBytes = be.Uint32(raw[60:])
		copy(h.RawSHA1[:], raw[64:84])
		copy(h.SHA1[:], raw[84:104])
		copy(h.ParentSHA1[:], raw[104:124])
		if h.HunkBytes == 0 || h.UnitBytes == 0 {
			return nil, StatusInvalidFile
		}
		if !isZero(h.ParentSHA1[:]) {
			h.Flags |= FlagHasParent
		}
		hunks := (h.LogicalBytes + uint64(h.HunkBytes) - 1) / uint64(h.HunkBytes)
		if hunks > MaxHunks {
			return nil, StatusInvalidFile
		}
		h.HunkCount = uint32(hunks)
		h.TotalHunks = h.HunkCount
		h.UnitCount = (h.LogicalBytes + uint64(h.UnitBytes) - 1) / uint64(h.UnitBytes)
		h.MapEntryBytes = 4
		if h.Compression[0] != CodecNone {
			h.MapEntryBytes = 12
		}
	}
	if h.Version < 5 {
		h.MapOffset = uint64(h.Length)
		h.HunkCount = h.TotalHunks
	}
	return h, nil
}

// validate applies the structural checks for pre-v5 headers.
func (h *Header) validate() error {
	if h.Version >= 5 {
		return nil
	}
	if h.Flags&flagsUndefined != 0 {
		return StatusInvalidFile
	}
	switch h.Compression[0] {
	case CompressionNone, CompressionZlib, CompressionZlibPlus, CompressionAV:
	default:
		return StatusInvalidFile
	}
	if h.HunkBytes == 0 || h.HunkBytes >= 65536*256 {
		return StatusInvalidFile
	}
	if h.TotalHunks == 0 || h.TotalHunks > MaxHunks {
		return StatusInvalidFile
	}
	if h.LogicalBytes > uint64(h.TotalHunks)*uint64(h.HunkBytes) {
		return StatusInvalidFile
	}
	if h.HasParent() && isZero(h.ParentMD5[:]) && isZero(h.ParentSHA1[:]) {
		return StatusInvalidFile
	}
	if h.Version < 3 && (h.ObsoleteHunkSize == 0 || h.ObsoleteCylinders == 0 ||
		h.ObsoleteSectors == 0 || h.ObsoleteHeads == 0) {
		return StatusInvalidFile
	}
	return nil
}

// MaxHunks bounds the hunk map held in memory.
const MaxHunks = 1 << 26

// CodecName returns the four character name of a v5 codec tag, or the
// legacy scheme name for v1-v4 values.
func CodecName(version, codec uint32) string {
	if version < 5 {
		switch codec {
		case CompressionNone:
			return "none"
		case CompressionZlib:
			return "zlib"
		case CompressionZlibPlus:
			return "zlib+"
		case CompressionAV:
			return "av"
		}
		return fmt.Sprintf("unknown(%d)", codec)
	}
	if codec == CodecNone {
		return "none"
	}
	return TagString(codec)
}

// TagString renders a big-endian four character code.
func TagString(tag uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tag)
	return string(b[:])
}

// MakeTag packs a four character code into its big-endian integer form.
func MakeTag(s string) uint32 {
	var b [4]byte
	copy(b[:], s)
	return binary.BigEndian.Uint32(b[:])
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
