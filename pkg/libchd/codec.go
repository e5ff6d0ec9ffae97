package libchd

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// decompressor expands one compressed hunk into dst, which is exactly one
// hunk long.
type decompressor interface {
	decompress(src, dst []byte) error
}

var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("libchd: zstd decoder init: " + err.Error())
	}
}

// CD hunks hold whole frames: sector data followed by subcode.
const (
	cdSectorBytes  = 2352
	cdSubcodeBytes = 96
	cdFrameBytes   = cdSectorBytes + cdSubcodeBytes
)

// newDecompressor returns the codec for a header compression value. It
// reports false for codecs this package cannot decode; hunks that select
// such a codec fail with StatusCodecError when read.
func newDecompressor(version, codec, hunkBytes uint32) (decompressor, bool) {
	if version < 5 {
		switch codec {
		case CompressionZlib, CompressionZlibPlus:
			return deflateCodec{}, true
		}
		return nil, false
	}
	frames := hunkBytes / cdFrameBytes
	switch codec {
	case CodecZlib:
		return deflateCodec{}, true
	case CodecZstd:
		return zstdCodec{}, true
	case CodecLZMA:
		return lzmaCodec{dictSize: lzmaDictSize(hunkBytes)}, true
	case CodecHuff:
		return huffCodec{}, true
	case CodecCDZlib:
		return &cdCodec{base: deflateCodec{}, subcode: deflateCodec{}}, true
	case CodecCDLZMA:
		return &cdCodec{base: lzmaCodec{dictSize: lzmaDictSize(frames * cdSectorBytes)}, subcode: deflateCodec{}}, true
	case CodecCDZstd:
		return &cdCodec{base: zstdCodec{}, subcode: zstdCodec{}}, true
	}
	return nil, false
}

// deflateCodec handles raw deflate streams without a zlib wrapper.
type deflateCodec struct{}

func (deflateCodec) decompress(src, dst []byte) error {
	r := flate.NewReader(bytes.NewReader(src))
	defer func() { _ = r.Close() }()
	if _, err := io.ReadFull(r, dst); err != nil {
		return StatusDecompressionError
	}
	return nil
}

type zstdCodec struct{}

func (zstdCodec) decompress(src, dst []byte) error {
	out, err := zstdDecoder.DecodeAll(src, dst[:0])
	if err != nil || len(out) != len(dst) {
		return StatusDecompressionError
	}
	copy(dst, out)
	return nil
}

const lzmaProperties = 0x5d // lc=3 lp=0 pb=2

// lzmaCodec decodes headerless LZMA streams. The stream header is rebuilt
// from the dictionary size the encoder derives from the hunk size.
type lzmaCodec struct {
	dictSize uint32
}

func (c lzmaCodec) decompress(src, dst []byte) error {
	var hdr [lzma.HeaderLen]byte
	hdr[0] = lzmaProperties
	binary.LittleEndian.PutUint32(hdr[1:5], c.dictSize)
	binary.LittleEndian.PutUint64(hdr[5:13], uint64(len(dst)))

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr[:]), bytes.NewReader(src)))
	if err != nil {
		return StatusDecompressionError
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return StatusDecompressionError
	}
	return nil
}

// lzmaDictSize mirrors the encoder's level 9 normalisation: the smallest
// 2<<i or 3<<i that covers one hunk.
func lzmaDictSize(hunkBytes uint32) uint32 {
	const level9 = 1 << 26
	if hunkBytes >= level9 {
		return level9
	}
	for i := 11; i <= 30; i++ {
		if hunkBytes <= 2<<i {
			return 2 << i
		}
		if hunkBytes <= 3<<i {
			return 3 << i
		}
	}
	return level9
}

// huffCodec is a byte-wise Huffman code whose tree travels at the front of
// every hunk.
type huffCodec struct{}

func (huffCodec) decompress(src, dst []byte) error {
	br := newBitReader(src)
	dec := newHuffmanDecoder(256, 16)
	if err := dec.importTreeHuffman(br); err != nil {
		return StatusDecompressionError
	}
	for i := range dst {
		dst[i] = byte(dec.decode(br))
	}
	if br.overflow() {
		return StatusDecompressionError
	}
	return nil
}

// cdCodec compresses the sector data and the subcode of a CD hunk as two
// separate streams. A leading bitmap marks frames whose sync header and ECC
// were stripped by the encoder; they are regenerated here.
type cdCodec struct {
	base    decompressor
	subcode decompressor
	buf     []byte
}

func (c *cdCodec) decompress(src, dst []byte) error {
	frames := len(dst) / cdFrameBytes
	if frames == 0 || len(dst)%cdFrameBytes != 0 {
		return StatusDecompressionError
	}
	lenBytes := 2
	if len(dst) >= 65536 {
		lenBytes = 3
	}
	eccBytes := (frames + 7) / 8
	hdrBytes := eccBytes + lenBytes
	if len(src) < hdrBytes {
		return StatusDecompressionError
	}
	baseLen := int(src[eccBytes])<<8 | int(src[eccBytes+1])
	if lenBytes == 3 {
		baseLen = baseLen<<8 | int(src[eccBytes+2])
	}
	if baseLen > len(src)-hdrBytes {
		return StatusDecompressionError
	}

	if cap(c.buf) < len(dst) {
		c.buf = make([]byte, len(dst))
	}
	sectors := c.buf[:frames*cdSectorBytes]
	subcode := c.buf[frames*cdSectorBytes : len(dst)]
	if err := c.base.decompress(src[hdrBytes:hdrBytes+baseLen], sectors); err != nil {
		return err
	}
	if err := c.subcode.decompress(src[hdrBytes+baseLen:], subcode); err != nil {
		return err
	}

	for i := range frames {
		frame := dst[i*cdFrameBytes : (i+1)*cdFrameBytes]
		copy(frame, sectors[i*cdSectorBytes:(i+1)*cdSectorBytes])
		copy(frame[cdSectorBytes:], subcode[i*cdSubcodeBytes:(i+1)*cdSubcodeBytes])
		if src[i/8]&(1<<(i%8)) != 0 {
			copy(frame, cdSyncHeader[:])
			eccGenerate(frame)
		}
	}
	return nil
}
