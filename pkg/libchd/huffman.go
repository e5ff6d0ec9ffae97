package libchd

// huffmanDecoder is a canonical Huffman decoder with a flat lookup table.
// Each lookup entry packs (symbol << 5) | codeLength.
type huffmanDecoder struct {
	maxBits uint
	lengths []uint8
	lookup  []uint16
}

func newHuffmanDecoder(numCodes int, maxBits uint) *huffmanDecoder {
	return &huffmanDecoder{
		maxBits: maxBits,
		lengths: make([]uint8, numCodes),
		lookup:  make([]uint16, 1<<maxBits),
	}
}

// importTreeRLE reads run-length encoded code lengths and builds the table.
func (d *huffmanDecoder) importTreeRLE(br *bitReader) error {
	var numBits uint
	switch {
	case d.maxBits >= 16:
		numBits = 5
	case d.maxBits >= 8:
		numBits = 4
	default:
		numBits = 3
	}

	for i := 0; i < len(d.lengths); {
		n := br.read(numBits)
		if n != 1 {
			d.lengths[i] = uint8(n)
			i++
			continue
		}
		// 1 escapes: a second 1 is a literal, anything else is a run.
		n = br.read(numBits)
		if n == 1 {
			d.lengths[i] = 1
			i++
			continue
		}
		rep := int(br.read(numBits)) + 3
		for ; rep > 0 && i < len(d.lengths); rep-- {
			d.lengths[i] = uint8(n)
			i++
		}
		if rep > 0 {
			return StatusInvalidData
		}
	}

	if err := d.build(); err != nil {
		return err
	}
	if br.overflow() {
		return StatusInvalidData
	}
	return nil
}

// importTreeHuffman reads code lengths that are themselves Huffman coded
// with a small 24 symbol tree. Symbol 0 of the small tree starts a run of
// the previous length; symbol n sets length n-1.
func (d *huffmanDecoder) importTreeHuffman(br *bitReader) error {
	small := newHuffmanDecoder(24, 6)
	small.lengths[0] = uint8(br.read(3))
	start := int(br.read(3)) + 1
	var count uint32
	for i := 1; i < len(small.lengths); i++ {
		if i < start || count == 7 {
			continue
		}
		count = br.read(3)
		if count != 7 {
			small.lengths[i] = uint8(count)
		}
	}
	if err := small.build(); err != nil {
		return err
	}

	var runBits uint
	for v := len(d.lengths) - 9; v > 0; v >>= 1 {
		runBits++
	}

	var last uint8
	for i := 0; i < len(d.lengths); {
		v := small.decode(br)
		if v != 0 {
			last = uint8(v - 1)
			d.lengths[i] = last
			i++
			continue
		}
		n := int(br.read(3)) + 2
		if n == 9 {
			n += int(br.read(runBits))
		}
		for ; n > 0 && i < len(d.lengths); n-- {
			d.lengths[i] = last
			i++
		}
	}

	if err := d.build(); err != nil {
		return err
	}
	if br.overflow() {
		return StatusInvalidData
	}
	return nil
}

func (d *huffmanDecoder) build() error {
	codes, err := d.assignCodes()
	if err != nil {
		return err
	}
	return d.buildLookup(codes)
}

func (d *huffmanDecoder) assignCodes() ([]uint32, error) {
	var histo [33]uint32
	for _, n := range d.lengths {
		if uint(n) > d.maxBits {
			return nil, StatusInvalidData
		}
		if n <= 32 {
			histo[n]++
		}
	}

	var start uint32
	for n := 32; n > 0; n-- {
		next := (start + histo[n]) >> 1
		if n != 1 && next*2 != start+histo[n] {
			return nil, StatusInvalidData
		}
		histo[n] = start
		start = next
	}
	if start > 1 {
		return nil, StatusInvalidData
	}

	codes := make([]uint32, len(d.lengths))
	for i, n := range d.lengths {
		if n > 0 {
			codes[i] = histo[n]
			histo[n]++
		}
	}
	return codes, nil
}

func (d *huffmanDecoder) buildLookup(codes []uint32) error {
	for sym, n := range d.lengths {
		if n == 0 {
			continue
		}
		value := uint16(sym)<<5 | uint16(n)
		shift := d.maxBits - uint(n)
		first := codes[sym] << shift
		last := ((codes[sym] + 1) << shift) - 1
		if int(last) >= len(d.lookup) {
			return StatusInvalidData
		}
		for j := first; j <= last; j++ {
			d.lookup[j] = value
		}
	}
	return nil
}

func (d *huffmanDecoder) decode(br *bitReader) uint32 {
	e := d.lookup[br.peek(d.maxBits)]
	br.remove(uint(e & 0x1f))
	return uint32(e >> 5)
}
