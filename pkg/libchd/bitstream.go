package libchd

// bitReader reads MSB-first bit fields. Reads past the end yield zero bits
// and are reported by overflow.
type bitReader struct {
	buf   []byte
	off   int
	acc   uint64
	nbits uint
}

func newBitReader(buf []byte) *bitReader {
	return &bitReader{buf: buf}
}

func (b *bitReader) fill(n uint) {
	for b.nbits < n {
		var c byte
		if b.off < len(b.buf) {
			c = b.buf[b.off]
		}
		b.off++
		b.acc |= uint64(c) << (56 - b.nbits)
		b.nbits += 8
	}
}

func (b *bitReader) peek(n uint) uint32 {
	if n == 0 {
		return 0
	}
	b.fill(n)
	return uint32(b.acc >> (64 - n))
}

func (b *bitReader) remove(n uint) {
	b.fill(n)
	b.acc <<= n
	b.nbits -= n
}

func (b *bitReader) read(n uint) uint32 {
	v := b.peek(n)
	b.remove(n)
	return v
}

// overflow reports whether more bits were consumed than the buffer holds.
func (b *bitReader) overflow() bool {
	return b.off*8-int(b.nbits) > len(b.buf)*8
}
