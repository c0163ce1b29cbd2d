package flash

import "github.com/sigurn/crc8"

var maximTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// CRC16 is the CCITT variant used on the host link. Verify reports it for
// both sides of a mismatch.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

// IDFingerprint is the Dallas/Maxim CRC-8 of an RDID response
func IDFingerprint(id []byte) uint8 {
	return crc8.Checksum(id, maximTable)
}
