package libchd

import (
	"encoding/binary"
)

type entryKind uint8

const (
	entryInvalid entryKind = iota
	entryCompressed
	entryUncompressed
	entryMini
	entrySelf
	entryParentHunk
	entryParentUnit
	entryUnmapped
)

// mapEntry describes where one hunk lives. For compressed entries codec is
// the slot in Header.Compression. Offsets of self and parent entries are
// hunk or unit indexes rather than byte offsets.
type mapEntry struct {
	kind   entryKind
	codec  uint8
	offset uint64
	length uint32
	crc    uint32
	hasCRC bool
	crc16  bool
}

const (
	v34EntryInvalid      = 0
	v34EntryCompressed   = 1
	v34EntryUncompressed = 2
	v34EntryMini         = 3
	v34EntrySelfHunk     = 4
	v34EntryParentHunk   = 5
	v34FlagNoCRC         = 0x10

	endOfListCookie = "EndOfListCookie\x00"
)

// v5 compressed map entry types.
const (
	compressionType0 = iota
	compressionType1
	compressionType2
	compressionType3
	compressionNone
	compressionSelf
	compressionParent
	compressionRLESmall
	compressionRLELarge
	compressionSelf0
	compressionSelf1
	compressionParentSelf
	compressionParent0
	compressionParent1
)

// maxRunHunks is the most hunks one large run can repeat, counting the
// hunk that carries it.
const maxRunHunks = 1 + 2 + 16 + 0xf<<4 + 0xf

func readLegacyMap(src *source, h *Header) ([]mapEntry, error) {
	entrySize := int(h.MapEntryBytes)
	if !src.fits(h.MapOffset, (uint64(h.TotalHunks)+1)*uint64(entrySize)) {
		return nil, StatusInvalidFile
	}
	raw := make([]byte, int(h.TotalHunks)*entrySize+entrySize)
	if err := src.readAt(raw, int64(h.MapOffset)); err != nil {
		return nil, err
	}
	if string(raw[len(raw)-entrySize:]) != endOfListCookie[:entrySize] {
		return nil, StatusInvalidFile
	}

	be := binary.BigEndian
	entries := make([]mapEntry, h.TotalHunks)
	for i := range entries {
		b := raw[i*entrySize : (i+1)*entrySize]
		e := &entries[i]
		if entrySize == 8 {
			v := be.Uint64(b)
			e.offset = v & 0x00000fffffffffff
			e.length = uint32(v >> 44)
			e.kind = entryCompressed
			if e.length == h.HunkBytes {
				e.kind = entryUncompressed
			}
			continue
		}
		e.offset = be.Uint64(b[0:])
		e.crc = be.Uint32(b[8:])
		e.length = uint32(be.Uint16(b[12:])) | uint32(b[14])<<16
		e.hasCRC = b[15]&v34FlagNoCRC == 0
		switch b[15] & 0x0f {
		case v34EntryCompressed:
			e.kind = entryCompressed
		case v34EntryUncompressed:
			e.kind = entryUncompressed
		case v34EntryMini:
			e.kind = entryMini
		case v34EntrySelfHunk:
			e.kind = entrySelf
		case v34EntryParentHunk:
			e.kind = entryParentHunk
		default:
			e.kind = entryInvalid
		}
	}
	return entries, nil
}

func readV5UncompressedMap(src *source, h *Header) ([]mapEntry, error) {
	if !src.fits(h.MapOffset, uint64(h.HunkCount)*4) {
		return nil, StatusInvalidFile
	}
	raw := make([]byte, int(h.HunkCount)*4)
	if err := src.readAt(raw, int64(h.MapOffset)); err != nil {
		return nil, err
	}
	entries := make([]mapEntry, h.HunkCount)
	for i := range entries {
		off := uint64(binary.BigEndian.Uint32(raw[i*4:])) * uint64(h.HunkBytes)
		if off == 0 {
			entries[i] = mapEntry{kind: entryUnmapped}
			continue
		}
		entries[i] = mapEntry{kind: entryUncompressed, offset: off, length: h.HunkBytes}
	}
	return entries, nil
}

// readV5CompressedMap decodes the Huffman coded map that follows a 16 byte
// map header, then verifies the CRC of the expanded raw map.
func readV5CompressedMap(src *source, h *Header) ([]mapEntry, error) {
	var mh [16]byte
	if err := src.readAt(mh[:], int64(h.MapOffset)); err != nil {
		return nil, err
	}
	be := binary.BigEndian
	mapBytes := be.Uint32(mh[0:])
	firstOffs := uint64(be.Uint16(mh[4:]))<<32 | uint64(be.Uint32(mh[6:]))
	mapCRC := be.Uint16(mh[10:])
	lengthBits := uint(mh[12])
	selfBits := uint(mh[13])
	parentBits := uint(mh[14])
	if lengthBits > 32 || selfBits > 32 || parentBits > 32 {
		return nil, StatusInvalidFile
	}
	if !src.fits(h.MapOffset+16, uint64(mapBytes)) {
		return nil, StatusInvalidFile
	}
	// Every symbol costs at least one bit and a large run covers at most
	// maxRunHunks hunks, which bounds the hunks a map of this size describes.
	if uint64(h.HunkCount) > uint64(mapBytes)*8*maxRunHunks {
		return nil, StatusInvalidFile
	}

	comp := make([]byte, mapBytes)
	if err := src.readAt(comp, int64(h.MapOffset)+16); err != nil {
		return nil, err
	}
	br := newBitReader(comp)
	dec := newHuffmanDecoder(16, 8)
	if err := dec.importTreeRLE(br); err != nil {
		return nil, err
	}

	hunks := int(h.HunkCount)
	raw := make([]byte, hunks*12)
	unitsPerHunk := uint64(h.HunkBytes / h.UnitBytes)

	var repCount int
	var lastComp byte
	for i := range hunks {
		if repCount > 0 {
			raw[i*12] = lastComp
			repCount--
			continue
		}
		val := byte(dec.decode(br))
		switch val {
		case compressionRLESmall:
			raw[i*12] = lastComp
			repCount = 2 + int(dec.decode(br))
		case compressionRLELarge:
			raw[i*12] = lastComp
			repCount = 2 + 16 + int(dec.decode(br))<<4
			repCount += int(dec.decode(br))
		default:
			raw[i*12] = val
			lastComp = val
		}
	}

	curOffset := firstOffs
	var lastSelf uint32
	var lastParent uint64
	entries := make([]mapEntry, hunks)
	for i := range hunks {
		r := raw[i*12 : (i+1)*12]
		offset := curOffset
		var length uint32
		var crc uint16

		switch r[0] {
		case compressionType0, compressionType1, compressionType2, compressionType3:
			length = br.read(lengthBits)
			curOffset += uint64(length)
			crc = uint16(br.read(16))
		case compressionNone:
			length = h.HunkBytes
			curOffset += uint64(length)
			crc = uint16(br.read(16))
		case compressionSelf:
			lastSelf = br.read(selfBits)
			offset = uint64(lastSelf)
		case compressionParent:
			offset = uint64(br.read(parentBits))
			lastParent = offset
		case compressionSelf0, compressionSelf1:
			if r[0] == compressionSelf1 {
				lastSelf++
			}
			r[0] = compressionSelf
			offset = uint64(lastSelf)
		case compressionParentSelf:
			r[0] = compressionParent
			offset = uint64(i) * unitsPerHunk
			lastParent = offset
		case compressionParent0, compressionParent1:
			if r[0] == compressionParent1 {
				lastParent += unitsPerHunk
			}
			r[0] = compressionParent
			offset = lastParent
		default:
			return nil, StatusInvalidFile
		}

		r[1] = byte(length >> 16)
		r[2] = byte(length >> 8)
		r[3] = byte(length)
		r[4] = byte(offset >> 40)
		r[5] = byte(offset >> 32)
		r[6] = byte(offset >> 24)
		r[7] = byte(offset >> 16)
		r[8] = byte(offset >> 8)
		r[9] = byte(offset)
		be.PutUint16(r[10:], crc)

		e := &entries[i]
		e.offset = offset
		e.length = length
		e.crc = uint32(crc)
		e.crc16 = true
		switch r[0] {
		case compressionType0, compressionType1, compressionType2, compressionType3:
			e.kind = entryCompressed
			e.codec = r[0]
			e.hasCRC = true
		case compressionNone:
			e.kind = entryUncompressed
			e.hasCRC = true
		case compressionSelf:
			e.kind = entrySelf
		case compressionParent:
			e.kind = entryParentUnit
		}
	}
	if br.overflow() {
		return nil, StatusInvalidFile
	}
	if CRC16(raw) != mapCRC {
		return nil, StatusInvalidFile
	}
	return entries, nil
}
