package libchd

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xffff, no reflection.
var crc16Table = func() (t [256]uint16) {
	for i := range t {
		c := uint16(i) << 8
		for range 8 {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC16 returns the checksum stored with v5 map entries.
func CRC16(p []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range p {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
