package replication

import (
	"fmt"
)

// decompressLZF expands LZF compressed data into exactly size bytes
func decompressLZF(in []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}

	ip, op := 0, 0
	for ip < len(in) {
		ctrl := int(in[ip])
		ip++

		if ctrl < 1<<5 {
			// Literal run of ctrl+1 bytes
			n := ctrl + 1
			if ip+n > len(in) {
				return nil, fmt.Errorf("%w: LZF literal runs past input", ErrCorruptSnapshot)
			}
			if op+n > size {
				return nil, fmt.Errorf("%w: LZF output overflow", ErrCorruptSnapshot)
			}
			copy(out[op:], in[ip:ip+n])
			ip += n
			op += n
			continue
		}

		// Back reference
		n := ctrl >> 5
		if n == 7 {
			if ip >= len(in) {
				return nil, fmt.Errorf("%w: LZF missing extended length", ErrCorruptSnapshot)
			}
			n += int(in[ip])
			ip++
		}
		n += 2

		if ip >= len(in) {
			return nil, fmt.Errorf("%w: LZF missing back reference offset", ErrCorruptSnapshot)
		}
		ref := op - ((ctrl&0x1f)<<8 | int(in[ip])) - 1
		ip++

		if ref < 0 {
			return nil, fmt.Errorf("%w: LZF back reference before start", ErrCorruptSnapshot)
		}
		if op+n > size {
			return nil, fmt.Errorf("%w: LZF output overflow", ErrCorruptSnapshot)
		}
		// Byte by byte: the source may overlap the bytes being written
		for i := 0; i < n; i++ {
			out[op] = out[ref]
			op++
			ref++
		}
	}

	if op != size {
		return nil, fmt.Errorf("%w: LZF produced %d bytes, expected %d", ErrCorruptSnapshot, op, size)
	}
	return out, nil
}
