package libchd

// Mode 1 sectors carry two Reed-Solomon product code layers over GF(2^8):
// 86 P columns of 24 bytes and 52 Q diagonals of 43 bytes, both counted
// from the header at offset 12.
const (
	eccPOffset   = 0x81c
	eccPNumBytes = 86
	eccPComp     = 24
	eccQOffset   = eccPOffset + 2*eccPNumBytes
	eccQNumBytes = 52
	eccQComp     = 43

	sectorModeOffset = 15
)

var cdSyncHeader = [12]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

var (
	eccLow  [256]byte
	eccHigh [256]byte
)

func init() {
	for i := range 256 {
		v := i << 1
		if i&0x80 != 0 {
			v ^= 0x11d
		}
		eccLow[i] = byte(v)
		eccHigh[byte(v)^byte(i)] = byte(i)
	}
}

// eccPSource returns the source offset of component c of P column b.
func eccPSource(b, c int) int {
	return b + eccPNumBytes*c
}

// eccQSource returns the source offset of component c of Q diagonal b.
func eccQSource(b, c int) int {
	word := (43*(b>>1) + 44*c) % 1118
	return word*2 + b&1
}

func eccSourceByte(sector []byte, offset int) byte {
	// Mode 2 sectors compute ECC with a zeroed header.
	if sector[sectorModeOffset] == 2 && offset < 4 {
		return 0
	}
	return sector[12+offset]
}

// eccGenerate fills the P and Q parity bytes of a raw 2352 byte sector.
func eccGenerate(sector []byte) {
	for b := range eccPNumBytes {
		sector[eccPOffset+b], sector[eccPOffset+eccPNumBytes+b] = eccCompute(sector, eccPComp, func(c int) int { return eccPSource(b, c) })
	}
	for b := range eccQNumBytes {
		sector[eccQOffset+b], sector[eccQOffset+eccQNumBytes+b] = eccCompute(sector, eccQComp, func(c int) int { return eccQSource(b, c) })
	}
}

func eccCompute(sector []byte, n int, source func(int) int) (byte, byte) {
	var v1, v2 byte
	for c := range n {
		s := eccSourceByte(sector, source(c))
		v1 ^= s
		v2 ^= s
		v1 = eccLow[v1]
	}
	v1 = eccHigh[eccLow[v1]^v2]
	v2 ^= v1
	return v1, v2
}

// eccVerify reports whether the parity bytes of sector are consistent.
func eccVerify(sector []byte) bool {
	for b := range eccPNumBytes {
		v1, v2 := eccCompute(sector, eccPComp, func(c int) int { return eccPSource(b, c) })
		if sector[eccPOffset+b] != v1 || sector[eccPOffset+eccPNumBytes+b] != v2 {
			return false
		}
	}
	for b := range eccQNumBytes {
		v1, v2 := eccCompute(sector, eccQComp, func(c int) int { return eccQSource(b, c) })
		if sector[eccQOffset+b] != v1 || sector[eccQOffset+eccQNumBytes+b] != v2 {
			return false
		}
	}
	return true
}
