package libchd

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
)

func mode1Sector(seed byte) []byte {
	s := make([]byte, cdSectorBytes)
	copy(s, cdSyncHeader[:])
	s[12], s[13], s[14], s[15] = 0x00, 0x02, 0x16, 1
	for i := 16; i < 2064; i++ {
		s[i] = byte(i*31) ^ seed
	}
	eccGenerate(s)
	return s
}

func TestECCGenerateVerify(t *testing.T) {
	t.Parallel()

	s := mode1Sector(3)
	if !eccVerify(s) {
		t.Fatalf("generated parity does not verify")
	}
	s[100] ^= 0x01
	if eccVerify(s) {
		t.Fatalf("corrupted sector still verifies")
	}

	zero := make([]byte, cdSectorBytes)
	eccGenerate(zero)
	if !bytes.Equal(zero, make([]byte, cdSectorBytes)) {
		t.Fatalf("parity of an all-zero sector must be zero")
	}
}

func TestECCMode2IgnoresHeader(t *testing.T) {
	t.Parallel()

	a := mode1Sector(9)
	a[15] = 2
	b := append([]byte{}, a...)
	b[12], b[13], b[14] = 0x11, 0x22, 0x33
	eccGenerate(a)
	eccGenerate(b)
	if !bytes.Equal(a[eccPOffset:], b[eccPOffset:]) {
		t.Fatalf("mode 2 parity depends on the header")
	}
}

func TestECCQSourceOffsets(t *testing.T) {
	t.Parallel()

	// First Q diagonal wraps after 26 components.
	want := []int{0x000, 0x058, 0x0b0}
	for c, w := range want {
		if got := eccQSource(0, c); got != w {
			t.Fatalf("q(0,%d): got %#x want %#x", c, got, w)
		}
	}
	if got := eccQSource(0, 26); got != 0x034 {
		t.Fatalf("q(0,26): got %#x want 0x34", got)
	}
	if got := eccQSource(1, 1); got != 0x059 {
		t.Fatalf("q(1,1): got %#x want 0x59", got)
	}
	if got := eccQSource(0, 42); got != 0x5b4 {
		t.Fatalf("q(0,42): got %#x want 0x5b4", got)
	}
}

func deflateBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate writer: %v", err)
	}
	_, _ = w.Write(b)
	if err := w.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func TestCDCodecRestoresStrippedECC(t *testing.T) {
	t.Parallel()

	const frames = 2
	want := make([]byte, frames*cdFrameBytes)
	for i := range frames {
		frame := want[i*cdFrameBytes : (i+1)*cdFrameBytes]
		copy(frame, mode1Sector(byte(i)))
		for j := cdSectorBytes; j < cdFrameBytes; j++ {
			frame[j] = byte(j + i)
		}
	}

	// Frame 0 has its sync header and parity stripped; frame 1 is stored
	// as is.
	var sectors, subcode []byte
	for i := range frames {
		frame := append([]byte{}, want[i*cdFrameBytes:(i+1)*cdFrameBytes]...)
		if i == 0 {
			clear(frame[:len(cdSyncHeader)])
			clear(frame[eccPOffset : eccQOffset+2*eccQNumBytes])
		}
		sectors = append(sectors, frame[:cdSectorBytes]...)
		subcode = append(subcode, frame[cdSectorBytes:]...)
	}
	base := deflateBytes(t, sectors)
	src := []byte{0x01, byte(len(base) >> 8), byte(len(base))}
	src = append(src, base...)
	src = append(src, deflateBytes(t, subcode)...)

	codec, ok := newDecompressor(5, CodecCDZlib, frames*cdFrameBytes)
	if !ok {
		t.Fatalf("cdzl should be supported")
	}
	got := make([]byte, len(want))
	if err := codec.decompress(src, got); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frames differ after decode")
	}

	if err := codec.decompress(src[:2], got); err != StatusDecompressionError {
		t.Fatalf("truncated header: got %v", err)
	}
}

func TestUnsupportedCodecs(t *testing.T) {
	t.Parallel()

	for _, c := range []uint32{CodecFLAC, CodecCDFLAC, CodecAVHuff} {
		if _, ok := newDecompressor(5, c, 2448); ok {
			t.Fatalf("%s should be unsupported", TagString(c))
		}
	}
	if _, ok := newDecompressor(3, CompressionAV, 512); ok {
		t.Fatalf("av should be unsupported")
	}
}
