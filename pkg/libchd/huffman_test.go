package libchd

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ulikunitz/xz/lzma"
)

func TestBitReaderMSBFirst(t *testing.T) {
	t.Parallel()

	br := newBitReader([]byte{0b1010_1100, 0xff})
	if got := br.read(1); got != 1 {
		t.Fatalf("first bit: got %d want 1", got)
	}
	if got := br.read(3); got != 0b010 {
		t.Fatalf("next bits: got %03b want 010", got)
	}
	if got := br.read(8); got != 0b1100_1111 {
		t.Fatalf("straddling byte: got %08b", got)
	}
	if br.overflow() {
		t.Fatalf("overflow reported before end of buffer")
	}
	br.read(8)
	if !br.overflow() {
		t.Fatalf("expected overflow after reading past end")
	}
}

func TestHuffmanImportRunLength(t *testing.T) {
	t.Parallel()

	// Escape 1, length 4, run of 13+3: all sixteen symbols get 4 bit codes.
	// The trailing nibbles then decode as symbols 10 and 5.
	br := newBitReader([]byte{0x14, 0xda, 0x50})
	dec := newHuffmanDecoder(16, 8)
	if err := dec.importTreeRLE(br); err != nil {
		t.Fatalf("import tree: %v", err)
	}
	for i, n := range dec.lengths {
		if n != 4 {
			t.Fatalf("code %d length: got %d want 4", i, n)
		}
	}
	if got := dec.decode(br); got != 10 {
		t.Fatalf("first symbol: got %d want 10", got)
	}
	if got := dec.decode(br); got != 5 {
		t.Fatalf("second symbol: got %d want 5", got)
	}
}

func TestHuffmanRejectsInconsistentTree(t *testing.T) {
	t.Parallel()

	// Sixteen literal lengths of 3 cannot form a prefix code.
	var b []byte
	for range 8 {
		b = append(b, 0x33)
	}
	dec := newHuffmanDecoder(16, 8)
	if err := dec.importTreeRLE(newBitReader(b)); err != StatusInvalidData {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestCRC16CheckValue(t *testing.T) {
	t.Parallel()

	if got := CRC16([]byte("123456789")); got != 0x29b1 {
		t.Fatalf("crc16: got %#04x want 0x29b1", got)
	}
}

func TestLZMADictSize(t *testing.T) {
	t.Parallel()

	cases := map[uint32]uint32{
		1:       4096,
		4096:    4096,
		4097:    6144,
		19584:   24576,
		1 << 20: 1 << 20,
	}
	for hunk, want := range cases {
		if got := lzmaDictSize(hunk); got != want {
			t.Fatalf("dict size for %d: got %d want %d", hunk, got, want)
		}
	}
}

func TestLZMACodecHeaderless(t *testing.T) {
	t.Parallel()

	want := bytes.Repeat([]byte("compressed hunks of data "), 40)
	codec := lzmaCodec{dictSize: lzmaDictSize(uint32(len(want)))}

	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      int(codec.dictSize),
		SizeInHeader: true,
		Size:         int64(len(want)),
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := w.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	stream := buf.Bytes()
	if stream[0] != lzmaProperties || binary.LittleEndian.Uint32(stream[1:5]) != codec.dictSize {
		t.Fatalf("unexpected stream header % x", stream[:5])
	}

	got := make([]byte, len(want))
	if err := codec.decompress(stream[lzma.HeaderLen:], got); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch")
	}
}
