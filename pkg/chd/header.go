package chd

import (
	"encoding/hex"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

// Digest is a content hash. It marshals as lowercase hex.
type Digest []byte

func (d Digest) String() string { return hex.EncodeToString(d) }

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Codec is a v5 compression codec tag.
type Codec uint32

func (c Codec) String() string { return libchd.CodecName(5, uint32(c)) }

func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Header is the normalized view of a container header. Digest fields are
// nil when the container's version does not carry them.
type Header struct {
	Version      uint32  `json:"version"`
	HunkBytes    uint32  `json:"hunk_bytes"`
	HunkCount    uint32  `json:"hunk_count"`
	UnitBytes    uint32  `json:"unit_bytes"`
	UnitCount    uint64  `json:"unit_count"`
	LogicalBytes uint64  `json:"logical_bytes"`
	Compression  []Codec `json:"compression,omitempty"`
	HasParent    bool    `json:"has_parent"`
	MD5          Digest  `json:"md5,omitempty"`
	SHA1         Digest  `json:"sha1,omitempty"`
	RawSHA1      Digest  `json:"raw_sha1,omitempty"`
	ParentMD5    Digest  `json:"parent_md5,omitempty"`
	ParentSHA1   Digest  `json:"parent_sha1,omitempty"`
}

// UnitsPerHunk is HunkBytes / UnitBytes.
func (h *Header) UnitsPerHunk() uint32 {
	if h.UnitBytes == 0 {
		return 0
	}
	return h.HunkBytes / h.UnitBytes
}

// NewHeader normalizes a raw engine header: MD5 up to v3, SHA-1 from v3,
// raw SHA-1 from v4 and the codec list from v5. Parent digests follow the
// same rules and appear only when the parent flag is set.
func NewHeader(raw *libchd.Header) *Header {
	h := &Header{
		Version:      raw.Version,
		HunkBytes:    raw.HunkBytes,
		HunkCount:    raw.TotalHunks,
		UnitBytes:    raw.UnitBytes,
		UnitCount:    raw.UnitCount,
		LogicalBytes: raw.LogicalBytes,
		HasParent:    raw.Flags&libchd.FlagHasParent != 0,
	}
	v := raw.Version
	if v <= 3 {
		h.MD5 = clone(raw.MD5[:])
	}
	if v >= 3 {
		h.SHA1 = clone(raw.SHA1[:])
	}
	if v >= 4 {
		h.RawSHA1 = clone(raw.RawSHA1[:])
	}
	if v >= 5 {
		for _, c := range raw.Compression {
			if c != libchd.CodecNone {
				h.Compression = append(h.Compression, Codec(c))
			}
		}
	}
	if h.HasParent {
		if v <= 3 {
			h.ParentMD5 = clone(raw.ParentMD5[:])
		}
		if v >= 3 {
			h.ParentSHA1 = clone(raw.ParentSHA1[:])
		}
	}
	return h
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	c := *h
	c.Compression = append([]Codec(nil), h.Compression...)
	c.MD5 = cloneDigest(h.MD5)
	c.SHA1 = cloneDigest(h.SHA1)
	c.RawSHA1 = cloneDigest(h.RawSHA1)
	c.ParentMD5 = cloneDigest(h.ParentMD5)
	c.ParentSHA1 = cloneDigest(h.ParentSHA1)
	return &c
}

func cloneDigest(d Digest) Digest {
	if d == nil {
		return nil
	}
	return clone(d)
}

func clone(b []byte) Digest {
	return append(Digest(nil), b...)
}

// ReadHeader returns the normalized header of the container at path without
// opening a session. Containers that need a parent can still be inspected.
func ReadHeader(path string) (*Header, error) {
	return ReadHeaderWith(nil, path)
}

// ReadHeaderWith is ReadHeader through a specific engine; nil selects the
// native one.
func ReadHeaderWith(engine Engine, path string) (*Header, error) {
	if engine == nil {
		engine = NativeEngine()
	}
	raw, err := engine.ReadHeader(path)
	if err != nil {
		return nil, translate("read header", err)
	}
	return NewHeader(raw), nil
}
