package libchd

import (
	"encoding/binary"
	"fmt"
)

const (
	MetadataWildcard = 0

	MetaHardDisk      = 0x47444444 // GDDD
	MetaHardDiskIdent = 0x49444e54 // IDNT
	MetaHardDiskKey   = 0x4b455920 // "KEY "
	MetaPCMCIACIS     = 0x43495320 // "CIS "
	MetaCDROMOld      = 0x43484344 // CHCD
	MetaCDROMTrack    = 0x43485452 // CHTR
	MetaCDROMTrack2   = 0x43485432 // CHT2
	MetaGDROMOld      = 0x43484754 // CHGT
	MetaGDROMTrack    = 0x43484744 // CHGD
	MetaAV            = 0x41564156 // AVAV
	MetaAVLaserDisc   = 0x41564c44 // AVLD

	MetaFlagChecksum = 0x01

	// HardDiskMetadataFormat is the GDDD text layout.
	HardDiskMetadataFormat = "CYLS:%d,HEADS:%d,SECS:%d,BPS:%d"

	CDFrameSize = 2352 + 96

	metadataHeaderSize = 16
	maxMetadataEntries = 1 << 16
)

type metadataEntry struct {
	offset uint64
	next   uint64
	tag    uint32
	length uint32
	flags  uint8
}

// findMetadata walks the metadata chain for the index'th entry matching tag.
func findMetadata(src *source, h *Header, tag, index uint32) (metadataEntry, error) {
	var raw [metadataHeaderSize]byte
	offset := h.MetaOffset
	for n := 0; offset != 0; n++ {
		if n >= maxMetadataEntries {
			return metadataEntry{}, StatusInvalidFile
		}
		if err := src.readAt(raw[:], int64(offset)); err != nil {
			return metadataEntry{}, err
		}
		be := binary.BigEndian
		e := metadataEntry{
			offset: offset,
			tag:    be.Uint32(raw[0:]),
			next:   be.Uint64(raw[8:]),
		}
		lf := be.Uint32(raw[4:])
		e.flags = uint8(lf >> 24)
		e.length = lf & 0x00ffffff

		if tag == MetadataWildcard || e.tag == tag {
			if index == 0 {
				return e, nil
			}
			index--
		}
		offset = e.next
	}
	return metadataEntry{}, StatusMetadataNotFound
}

// readMetadata copies up to len(dst) bytes of the matching entry into dst
// and returns the entry's full length. Pre-v3 files carry no metadata chain,
// so a GDDD entry is synthesised from their geometry.
func readMetadata(src *source, h *Header, tag, index uint32, dst []byte) (uint32, uint32, uint8, error) {
	e, err := findMetadata(src, h, tag, index)
	if err != nil {
		if err == StatusMetadataNotFound && h.Version < 3 &&
			(tag == MetaHardDisk || tag == MetadataWildcard) && index == 0 {
			faux := fmt.Sprintf(HardDiskMetadataFormat+"\x00",
				h.ObsoleteCylinders, h.ObsoleteHeads, h.ObsoleteSectors,
				h.HunkBytes/h.ObsoleteHunkSize)
			copy(dst, faux)
			return uint32(len(faux)), MetaHardDisk, MetaFlagChecksum, nil
		}
		return 0, 0, 0, err
	}
	n := min(uint32(len(dst)), e.length)
	if err := src.readAt(dst[:n], int64(e.offset)+metadataHeaderSize); err != nil {
		return 0, 0, 0, err
	}
	return e.length, e.tag, e.flags, nil
}

// guessUnitBytes derives the unit size for pre-v5 files, which do not store
// one: sector size for hard disks, frame size for CD-ROMs, else a hunk.
func guessUnitBytes(src *source, h *Header) uint32 {
	buf := make([]byte, 512)
	if n, _, _, err := readMetadata(src, h, MetaHardDisk, 0, buf); err == nil {
		var cyls, heads, secs, bps uint32
		text := string(buf[:min(n, uint32(len(buf)))])
		if c, _ := fmt.Sscanf(text, HardDiskMetadataFormat, &cyls, &heads, &secs, &bps); c == 4 && bps > 0 {
			return bps
		}
	}
	for _, tag := range []uint32{MetaCDROMOld, MetaCDROMTrack, MetaCDROMTrack2, MetaGDROMOld, MetaGDROMTrack} {
		if _, err := findMetadata(src, h, tag, 0); err == nil {
			return CDFrameSize
		}
	}
	return h.HunkBytes
}
