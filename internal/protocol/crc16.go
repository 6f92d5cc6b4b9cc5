package protocol

const crc16Poly uint16 = 0x1021

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, MSB-first,
// no final XOR) over data. Both link endpoints must agree bit-for-bit, so
// this stays a plain bitwise loop rather than a table variant.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
