package mpegts

import "errors"

var errCRC = errors.New("CRC32 mismatch")

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc32MPEG computes the CRC-32/MPEG-2 checksum used by PSI sections.
func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section including its trailing CRC. A valid section
// checksums to zero.
func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return errCRC
	}
	if crc32MPEG(section) != 0 {
		return errCRC
	}
	return nil
}
