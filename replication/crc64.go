package replication

import (
	"hash/crc64"
)

// jonesPolynomial is the reflected CRC-64/Jones polynomial used by Redis
const jonesPolynomial = 0x95ac9329ac4bc9b5

var jonesTable = crc64.MakeTable(jonesPolynomial)

// crc64Jones updates crc with p. Redis uses no initial or final inversion,
// which is why crc64.Update cannot be used directly.
func crc64Jones(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = jonesTable[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
