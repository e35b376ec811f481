package fimg

import (
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

var crcTable *crc.Table

func init() {
	crcTable = crc.NewTable(crc.CRC32)
}

// NewChecksum returns a fresh streaming CRC-32 accumulator (reflected
// polynomial 0xEDB88320). Folding a buffer in one Update call or split
// across several yields the same value.
func NewChecksum() *crc.Hash {
	return crc.NewHashWithTable(crcTable)
}

// Checksum computes the CRC-32 of a complete buffer.
func Checksum(data []byte) uint32 {
	return uint32(crcTable.CalculateCRC(data))
}

// DeviceChecksum folds size bytes of live device content into a CRC-32,
// reading through chunk-sized pieces so the whole range is never buffered.
// It is used to confirm a restore after programming and can equally verify
// a device against a stored image.
func DeviceChecksum(read func(addr uint32, buf []byte) error, size, chunk uint32) (uint32, error) {
	if chunk == 0 {
		return 0, errors.New("device checksum: chunk size must be nonzero")
	}

	buf := make([]byte, chunk)
	h := NewChecksum()

	var addr uint32
	for remain := size; remain > 0; {
		n := remain
		if n > chunk {
			n = chunk
		}
		if err := read(addr, buf[:n]); err != nil {
			return 0, errors.Wrapf(err, "device checksum at 0x%08x", addr)
		}
		h.Update(buf[:n])
		addr += n
		remain -= n
	}

	return h.CRC32(), nil
}
