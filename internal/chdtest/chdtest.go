// Package chdtest synthesises small CHD images for tests.
package chdtest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

type RefKind int

const (
	// RefSelf copies another hunk of the same image. Target is a hunk index.
	RefSelf RefKind = iota + 1
	// RefParent reads from the parent. Target is a hunk index for v3 and a
	// unit index for v5.
	RefParent
	// RefMini fills the hunk with the big-endian 8 byte Target. v3 only.
	RefMini
	// RefUnmapped stores offset 0 in a v5 uncompressed map.
	RefUnmapped
)

type Ref struct {
	Kind   RefKind
	Target uint64
}

type Meta struct {
	Tag   uint32
	Flags uint8
	Data  []byte
}

// Image describes an image to build. Data is the logical content; it is
// zero padded to a whole number of hunks.
type Image struct {
	Version   int
	HunkBytes uint32
	UnitBytes uint32
	Data      []byte

	// Codec is a libchd codec tag for v5 or a compression scheme for v2/v3.
	// v5 payloads are encoded for zlib, zstd, lzma, huff, cdzl, cdlz and
	// cdzs; v2/v3 payloads for zlib. Hunks of other codecs are stored raw.
	// A v5 image with a codec gets a Huffman coded map; without one it gets
	// the flat map, which cannot express self or parent references.
	Codec uint32
	// Codecs, when set, is the full v5 codec list and replaces Codec.
	Codecs []uint32
	// Slots picks the codec slot per hunk; hunks not listed use slot 0.
	Slots map[uint32]uint8
	// ForceSlots stores every hunk with its slot's codec even when that
	// does not shrink it. Hunks whose codec cannot be encoded here keep
	// their raw bytes as the payload.
	ForceSlots bool

	Metadata  []Meta
	Refs      map[uint32]Ref
	Writeable bool

	ParentMD5  [16]byte
	ParentSHA1 [20]byte

	// v2 geometry; Data must be Cylinders*Heads*Sectors*SectorBytes long.
	Cylinders   uint32
	Heads       uint32
	Sectors     uint32
	SectorBytes uint32
}

// Build serialises img.
func Build(img Image) ([]byte, error) {
	if img.HunkBytes == 0 {
		return nil, fmt.Errorf("chdtest: hunk size must be positive")
	}
	switch img.Version {
	case 2:
		return buildV2(img)
	case 3:
		return buildV3(img)
	case 5:
		return buildV5(img)
	}
	return nil, fmt.Errorf("chdtest: unsupported version %d", img.Version)
}

// MustBuild is Build for tests.
func MustBuild(tb testing.TB, img Image) []byte {
	tb.Helper()
	b, err := Build(img)
	if err != nil {
		tb.Fatalf("build image: %v", err)
	}
	return b
}

// WriteFile builds img into dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, img Image) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, MustBuild(tb, img), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Pattern returns n bytes of deterministic, poorly compressible content.
func Pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	x := uint32(seed)*2654435761 + 1
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}

// HeaderSHA1 returns the combined SHA1 stored in a built v3 or v5 image,
// suitable for a child's ParentSHA1.
func HeaderSHA1(image []byte) [20]byte {
	var out [20]byte
	switch binary.BigEndian.Uint32(image[12:]) {
	case 3:
		copy(out[:], image[80:100])
	case 5:
		copy(out[:], image[84:104])
	}
	return out
}

// HeaderMD5 returns the MD5 stored in a built v2 or v3 image.
func HeaderMD5(image []byte) [16]byte {
	var out [16]byte
	copy(out[:], image[44:60])
	return out
}

func hunkCount(img Image) int {
	return (len(img.Data) + int(img.HunkBytes) - 1) / int(img.HunkBytes)
}

func hunkData(img Image, i int) []byte {
	out := make([]byte, img.HunkBytes)
	start := i * int(img.HunkBytes)
	if start < len(img.Data) {
		copy(out, img.Data[start:])
	}
	return out
}

func compress(codec uint32, version int, data []byte) []byte {
	if version < 5 {
		if codec == libchd.CompressionZlib || codec == libchd.CompressionZlibPlus {
			return deflate(data)
		}
		return nil
	}
	switch codec {
	case libchd.CodecZlib:
		return deflate(data)
	case libchd.CodecZstd:
		return zstdEncode(data)
	case libchd.CodecLZMA:
		return lzmaEncode(data)
	case libchd.CodecHuff:
		return huffEncode(data)
	case libchd.CodecCDZlib:
		return cdEncode(data, deflate, deflate)
	case libchd.CodecCDLZMA:
		return cdEncode(data, lzmaEncode, deflate)
	case libchd.CodecCDZstd:
		return cdEncode(data, zstdEncode, zstdEncode)
	}
	return nil
}

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil
	}
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func zstdEncode(data []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil)
}

// lzmaEncode writes a headerless LZMA stream without an end marker.
func lzmaEncode(data []byte) []byte {
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      max(lzma.MinDictCap, len(data)),
		SizeInHeader: true,
		Size:         int64(len(data)),
	}.NewWriter(&buf)
	if err != nil {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()[lzma.HeaderLen:]
}

// huffEncode gives every byte an 8 bit code equal to its value. The tree
// is sent through a small tree in which symbol 9 means "length 8" and
// symbol 0 repeats it for the remaining 255 codes.
func huffEncode(data []byte) []byte {
	var bw bitWriter
	bw.write(1, 3) // small symbol 0: 1 bit
	bw.write(7, 3) // small symbols 1-7 unused
	bw.write(0, 3) // small symbol 8 unused
	bw.write(1, 3) // small symbol 9: 1 bit
	bw.write(7, 3) // end of small tree
	bw.write(1, 1) // code 0 has length 8
	bw.write(0, 1) // repeat ...
	bw.write(7, 3)
	bw.write(255-9, 8) // ... for 255 codes
	for _, b := range data {
		bw.write(uint32(b), 8)
	}
	return bw.bytes()
}

// cdEncode splits whole CD frames into sector data and subcode and
// compresses each. No frame has its ECC stripped.
func cdEncode(data []byte, base, subcode func([]byte) []byte) []byte {
	const sectorBytes, subcodeBytes = 2352, 96
	const frameBytes = sectorBytes + subcodeBytes
	frames := len(data) / frameBytes
	if frames == 0 || len(data)%frameBytes != 0 {
		return nil
	}
	sectors := make([]byte, 0, frames*sectorBytes)
	sub := make([]byte, 0, frames*subcodeBytes)
	for i := range frames {
		frame := data[i*frameBytes : (i+1)*frameBytes]
		sectors = append(sectors, frame[:sectorBytes]...)
		sub = append(sub, frame[sectorBytes:]...)
	}
	b, s := base(sectors), subcode(sub)
	if b == nil || s == nil {
		return nil
	}

	out := make([]byte, (frames+7)/8)
	if len(data) >= 65536 {
		out = append(out, byte(len(b)>>16))
	}
	out = append(out, byte(len(b)>>8), byte(len(b)))
	out = append(out, b...)
	return append(out, s...)
}

// combinedSHA1 hashes the raw data followed by checksummed metadata.
func combinedSHA1(raw []byte, metas []Meta) [20]byte {
	h := sha1.New()
	h.Write(raw)
	for _, m := range metas {
		if m.Flags&libchd.MetaFlagChecksum == 0 {
			continue
		}
		var tag [4]byte
		binary.BigEndian.PutUint32(tag[:], m.Tag)
		sum := sha1.Sum(m.Data)
		h.Write(tag[:])
		h.Write(sum[:])
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// appendMetadata writes the metadata chain at the end of out and returns
// the offset of its first entry.
func appendMetadata(out []byte, metas []Meta) ([]byte, uint64) {
	if len(metas) == 0 {
		return out, 0
	}
	first := uint64(len(out))
	for i, m := range metas {
		var hdr [16]byte
		binary.BigEndian.PutUint32(hdr[0:], m.Tag)
		binary.BigEndian.PutUint32(hdr[4:], uint32(m.Flags)<<24|uint32(len(m.Data))&0xffffff)
		if i+1 < len(metas) {
			binary.BigEndian.PutUint64(hdr[8:], uint64(len(out))+16+uint64(len(m.Data)))
		}
		out = append(out, hdr[:]...)
		out = append(out, m.Data...)
	}
	return out, first
}

func buildV2(img Image) ([]byte, error) {
	if img.SectorBytes == 0 || img.HunkBytes%img.SectorBytes != 0 {
		return nil, fmt.Errorf("chdtest: hunk size must be a multiple of the sector size")
	}
	logical := uint64(img.Cylinders) * uint64(img.Heads) * uint64(img.Sectors) * uint64(img.SectorBytes)
	if logical != uint64(len(img.Data)) {
		return nil, fmt.Errorf("chdtest: data length %d does not match geometry (%d)", len(img.Data), logical)
	}
	hunks := hunkCount(img)
	out := make([]byte, libchd.V2HeaderSize+hunks*8+8)
	be := binary.BigEndian
	copy(out, libchd.Magic)
	be.PutUint32(out[8:], libchd.V2HeaderSize)
	be.PutUint32(out[12:], 2)
	var flags uint32
	if !isZero(img.ParentMD5[:]) {
		flags |= libchd.FlagHasParent
	}
	if img.Writeable {
		flags |= libchd.FlagIsWriteable
	}
	be.PutUint32(out[16:], flags)
	be.PutUint32(out[20:], img.Codec)
	be.PutUint32(out[24:], img.HunkBytes/img.SectorBytes)
	be.PutUint32(out[28:], uint32(hunks))
	be.PutUint32(out[32:], img.Cylinders)
	be.PutUint32(out[36:], img.Heads)
	be.PutUint32(out[40:], img.Sectors)
	sum := md5.Sum(img.Data)
	copy(out[44:], sum[:])
	copy(out[60:], img.ParentMD5[:])
	be.PutUint32(out[76:], img.SectorBytes)

	mapAt := libchd.V2HeaderSize
	copy(out[mapAt+hunks*8:], "EndOfLis")
	for i := range hunks {
		data := hunkData(img, i)
		payload := compress(img.Codec, 2, data)
		if payload == nil || len(payload) >= len(data) {
			payload = data
		}
		entry := uint64(len(out)) | uint64(len(payload))<<44
		be.PutUint64(out[mapAt+i*8:], entry)
		out = append(out, payload...)
	}
	return out, nil
}

func buildV3(img Image) ([]byte, error) {
	hunks := hunkCount(img)
	const entrySize = 16
	out := make([]byte, libchd.V3HeaderSize+hunks*entrySize+entrySize)
	be := binary.BigEndian
	copy(out[libchd.V3HeaderSize+hunks*entrySize:], "EndOfListCookie\x00")

	for i := range hunks {
		e := out[libchd.V3HeaderSize+i*entrySize:]
		data := hunkData(img, i)
		if ref, ok := img.Refs[uint32(i)]; ok {
			be.PutUint64(e[0:], ref.Target)
			switch ref.Kind {
			case RefSelf:
				e[15] = 4 | 0x10
			case RefParent:
				e[15] = 5 | 0x10
			case RefMini:
				e[15] = 3
				be.PutUint32(e[8:], crc32.ChecksumIEEE(data))
			default:
				return nil, fmt.Errorf("chdtest: ref kind %d not valid in v3", ref.Kind)
			}
			continue
		}
		typ := byte(1)
		payload := compress(img.Codec, 3, data)
		if payload == nil || len(payload) >= len(data) {
			typ, payload = 2, data
		}
		be.PutUint64(e[0:], uint64(len(out)))
		be.PutUint32(e[8:], crc32.ChecksumIEEE(data))
		be.PutUint16(e[12:], uint16(len(payload)))
		e[14] = byte(len(payload) >> 16)
		e[15] = typ
		out = append(out, payload...)
	}

	out, metaOffset := appendMetadata(out, img.Metadata)

	copy(out, libchd.Magic)
	be.PutUint32(out[8:], libchd.V3HeaderSize)
	be.PutUint32(out[12:], 3)
	var flags uint32
	if !isZero(img.ParentMD5[:]) || !isZero(img.ParentSHA1[:]) {
		flags |= libchd.FlagHasParent
	}
	if img.Writeable {
		flags |= libchd.FlagIsWriteable
	}
	be.PutUint32(out[16:], flags)
	be.PutUint32(out[20:], img.Codec)
	be.PutUint32(out[24:], uint32(hunks))
	be.PutUint64(out[28:], uint64(len(img.Data)))
	be.PutUint64(out[36:], metaOffset)
	sum := md5.Sum(img.Data)
	copy(out[44:], sum[:])
	copy(out[60:], img.ParentMD5[:])
	be.PutUint32(out[76:], img.HunkBytes)
	raw := sha1.Sum(img.Data)
	copy(out[80:], raw[:])
	copy(out[100:], img.ParentSHA1[:])
	return out, nil
}

func buildV5(img Image) ([]byte, error) {
	unitBytes := img.UnitBytes
	if unitBytes == 0 {
		unitBytes = img.HunkBytes
	}
	if img.HunkBytes%unitBytes != 0 {
		return nil, fmt.Errorf("chdtest: hunk size must be a multiple of the unit size")
	}
	codecs := img.Codecs
	if codecs == nil {
		codecs = []uint32{img.Codec}
	}
	if len(codecs) > 4 {
		return nil, fmt.Errorf("chdtest: at most four codecs, got %d", len(codecs))
	}
	hunks := hunkCount(img)
	out := make([]byte, libchd.V5HeaderSize)
	be := binary.BigEndian

	var mapOffset uint64
	if codecs[0] == libchd.CodecNone {
		// Uncompressed maps store offsets in hunk units.
		align := func() {
			for len(out)%int(img.HunkBytes) != 0 {
				out = append(out, 0)
			}
		}
		align()
		offsets := make([]uint32, hunks)
		for i := range hunks {
			if ref, ok := img.Refs[uint32(i)]; ok {
				if ref.Kind != RefUnmapped {
					return nil, fmt.Errorf("chdtest: ref kind %d needs a compressed map", ref.Kind)
				}
				continue
			}
			offsets[i] = uint32(len(out) / int(img.HunkBytes))
			out = append(out, hunkData(img, i)...)
		}
		mapOffset = uint64(len(out))
		for _, o := range offsets {
			out = be.AppendUint32(out, o)
		}
	} else {
		var err error
		out, mapOffset, err = appendCompressedMap(out, img, codecs, hunks)
		if err != nil {
			return nil, err
		}
	}

	out, metaOffset := appendMetadata(out, img.Metadata)

	copy(out, libchd.Magic)
	be.PutUint32(out[8:], libchd.V5HeaderSize)
	be.PutUint32(out[12:], 5)
	for i, c := range codecs {
		be.PutUint32(out[16+4*i:], c)
	}
	be.PutUint64(out[32:], uint64(len(img.Data)))
	be.PutUint64(out[40:], mapOffset)
	be.PutUint64(out[48:], metaOffset)
	be.PutUint32(out[56:], img.HunkBytes)
	be.PutUint32(out[60:], unitBytes)
	raw := sha1.Sum(img.Data)
	copy(out[64:], raw[:])
	combined := combinedSHA1(img.Data, img.Metadata)
	copy(out[84:], combined[:])
	copy(out[104:], img.ParentSHA1[:])
	return out, nil
}

const (
	lengthBits = 24
	selfBits   = 32
	parentBits = 32
)

// appendCompressedMap writes hunk payloads followed by a Huffman coded map
// whose tree gives every symbol a 4 bit code equal to its value.
func appendCompressedMap(out []byte, img Image, codecs []uint32, hunks int) ([]byte, uint64, error) {
	type rec struct {
		typ    byte
		length uint32
		offset uint64
		crc    uint16
	}
	recs := make([]rec, hunks)
	firstOffs := uint64(len(out))
	cur := firstOffs
	for i := range hunks {
		data := hunkData(img, i)
		if ref, ok := img.Refs[uint32(i)]; ok {
			switch ref.Kind {
			case RefSelf:
				recs[i] = rec{typ: 5, offset: ref.Target}
			case RefParent:
				recs[i] = rec{typ: 6, offset: ref.Target}
			default:
				return nil, 0, fmt.Errorf("chdtest: ref kind %d not valid in a compressed map", ref.Kind)
			}
			continue
		}
		slot := img.Slots[uint32(i)]
		if int(slot) >= len(codecs) {
			return nil, 0, fmt.Errorf("chdtest: hunk %d uses undeclared codec slot %d", i, slot)
		}
		r := rec{typ: slot, offset: cur, crc: libchd.CRC16(data)}
		payload := compress(codecs[slot], 5, data)
		switch {
		case img.ForceSlots && payload == nil:
			payload = data
		case img.ForceSlots:
		case payload == nil || len(payload) >= len(data):
			r.typ, payload = 4, data
		}
		r.length = uint32(len(payload))
		recs[i] = r
		out = append(out, payload...)
		cur += uint64(len(payload))
	}

	var bw bitWriter
	for range 16 {
		bw.write(4, 4)
	}
	for _, r := range recs {
		bw.write(uint32(r.typ), 4)
	}
	raw := make([]byte, 0, hunks*12)
	for _, r := range recs {
		switch r.typ {
		case 0, 1, 2, 3:
			bw.write(r.length, lengthBits)
			bw.write(uint32(r.crc), 16)
		case 4:
			r.length = img.HunkBytes
			bw.write(uint32(r.crc), 16)
		case 5:
			bw.write(uint32(r.offset), selfBits)
		case 6:
			bw.write(uint32(r.offset), parentBits)
		}
		raw = append(raw, r.typ,
			byte(r.length>>16), byte(r.length>>8), byte(r.length),
			byte(r.offset>>40), byte(r.offset>>32), byte(r.offset>>24),
			byte(r.offset>>16), byte(r.offset>>8), byte(r.offset),
			byte(r.crc>>8), byte(r.crc))
	}
	bits := bw.bytes()

	mapOffset := uint64(len(out))
	var mh [16]byte
	be := binary.BigEndian
	be.PutUint32(mh[0:], uint32(len(bits)))
	be.PutUint16(mh[4:], uint16(firstOffs>>32))
	be.PutUint32(mh[6:], uint32(firstOffs))
	be.PutUint16(mh[10:], libchd.CRC16(raw))
	mh[12] = lengthBits
	mh[13] = selfBits
	mh[14] = parentBits
	out = append(out, mh[:]...)
	out = append(out, bits...)
	return out, mapOffset, nil
}

type bitWriter struct {
	buf   []byte
	acc   uint64
	nbits uint
}

func (w *bitWriter) write(v uint32, n uint) {
	for n > 0 {
		n--
		w.acc = w.acc<<1 | uint64(v>>n&1)
		w.nbits++
		if w.nbits == 8 {
			w.buf = append(w.buf, byte(w.acc))
			w.acc, w.nbits = 0, 0
		}
	}
}

func (w *bitWriter) bytes() []byte {
	out := w.buf
	if w.nbits > 0 {
		out = append(out, byte(w.acc<<(8-w.nbits)))
	}
	return out
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
