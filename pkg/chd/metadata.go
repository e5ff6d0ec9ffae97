package chd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

// Well-known metadata tags.
const (
	TagHardDisk      = "GDDD"
	TagHardDiskIdent = "IDNT"
	TagHardDiskKey   = "KEY "
	TagPCMCIACIS     = "CIS "
	TagCDROMTrack    = "CHTR"
	TagCDROMTrack2   = "CHT2"
	TagGDROMTrack    = "CHGD"
	TagAV            = "AVAV"
	TagAVLaserDisc   = "AVLD"
	TagCDROMOld      = "CHCD"
	TagGDROMOld      = "CHGT"
)

// Wildcard matches metadata of any tag.
const Wildcard = ""

const (
	FlagChecksum = libchd.MetaFlagChecksum

	metadataBufferSize = 256
	maxMetadataBytes   = 1<<24 - 1
)

// Metadata is one metadata record.
type Metadata struct {
	Tag   string `json:"tag"`
	Flags uint8  `json:"flags"`
	Data  []byte `json:"data"`
}

// Checksummed reports whether the record takes part in the container
// checksum.
func (m *Metadata) Checksummed() bool {
	return m.Flags&FlagChecksum != 0
}

// Metadata returns the index'th record whose tag matches, or nil if there
// is none. Tag Wildcard matches any record; any other tag must be exactly
// four bytes and not all zero. A text record's trailing NUL is stripped.
func (f *File) Metadata(index uint32, tag string) (*Metadata, error) {
	const op = "metadata"
	if err := f.check(op); err != nil {
		return nil, err
	}
	search := uint32(libchd.MetadataWildcard)
	if tag != Wildcard {
		if len(tag) != 4 {
			e := newError(KindInvalidTag, op)
			e.Err = fmt.Errorf("tag %q is not 4 bytes", tag)
			return nil, e
		}
		search = libchd.MakeTag(tag)
		if search == libchd.MetadataWildcard {
			e := newError(KindInvalidTag, op)
			e.Err = fmt.Errorf("tag %q packs to the wildcard", tag)
			return nil, e
		}
	}

	buf := make([]byte, metadataBufferSize)
	n, rtag, flags, err := f.handle.Metadata(search, index, buf)
	if errors.Is(err, libchd.StatusMetadataNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(op, err)
	}
	if n > uint32(len(buf)) {
		if n > maxMetadataBytes {
			e := newError(KindDataInvalid, op)
			e.Err = fmt.Errorf("metadata length %d exceeds %d", n, maxMetadataBytes)
			return nil, e
		}
		buf = make([]byte, n)
		n, rtag, flags, err = f.handle.Metadata(search, index, buf)
		if errors.Is(err, libchd.StatusMetadataNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, translate(op, err)
		}
		if n > uint32(len(buf)) {
			e := newError(KindDataInvalid, op)
			e.Err = fmt.Errorf("metadata length changed to %d", n)
			return nil, e
		}
	}

	data := buf[:n]
	if n > 0 && data[n-1] == 0 && bytes.IndexByte(data, 0) == int(n-1) {
		data = data[:n-1]
	}
	return &Metadata{
		Tag:   libchd.TagString(rtag),
		Flags: flags,
		Data:  data,
	}, nil
}

// AllMetadata returns every record in chain order. Each call scans from the
// first record.
func (f *File) AllMetadata() ([]*Metadata, error) {
	var out []*Metadata
	for i := uint32(0); ; i++ {
		m, err := f.Metadata(i, Wildcard)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return out, nil
		}
		out = append(out, m)
	}
}
