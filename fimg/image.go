// Package fimg implements the FIMG backup image format: a fixed
// little-endian header, the raw device content, and a CRC-32 trailer
// duplicating the header checksum. Storing the checksum twice lets a reader
// catch a partially written header as well as payload corruption.
package fimg

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	HeaderSize  = 28
	TrailerSize = 4

	// Ext is the on-disk extension for image files.
	Ext = ".fimg"
)

var magic = [8]byte{'F', 'I', 'M', 'G', 'v', '1', 0, 0}

var (
	ErrorInvalidMagic  = errors.New("image format tag is not valid")
	ErrorInvalidHeader = errors.New("image header is not valid")
	ErrorInvalidCRC    = errors.New("image CRC is not valid")
	ErrorTruncated     = errors.New("image file is truncated")
)

// Header is the fixed record prefixed to every image file. CRC32 is zero in
// the provisional header written at file creation and backfilled once the
// payload checksum is known.
type Header struct {
	JEDEC     [3]byte
	FlashSize uint32
	ChunkSize uint32
	ImageSize uint32
	CRC32     uint32
}

func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], magic[:])
	copy(buf[8:11], h.JEDEC[:])
	binary.LittleEndian.PutUint32(buf[12:], h.FlashSize)
	binary.LittleEndian.PutUint32(buf[16:], h.ChunkSize)
	binary.LittleEndian.PutUint32(buf[20:], h.ImageSize)
	binary.LittleEndian.PutUint32(buf[24:], h.CRC32)
	return buf, nil
}

func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrorTruncated
	}
	if !bytes.Equal(buf[0:8], magic[:]) {
		return ErrorInvalidMagic
	}

	copy(h.JEDEC[:], buf[8:11])
	h.FlashSize = binary.LittleEndian.Uint32(buf[12:])
	h.ChunkSize = binary.LittleEndian.Uint32(buf[16:])
	h.ImageSize = binary.LittleEndian.Uint32(buf[20:])
	h.CRC32 = binary.LittleEndian.Uint32(buf[24:])

	if h.ImageSize == 0 || h.ChunkSize == 0 {
		return errors.Wrapf(ErrorInvalidHeader, "image_size=%d chunk_size=%d", h.ImageSize, h.ChunkSize)
	}
	return nil
}

// ReadHeader reads and validates the header at the current position.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, errors.Wrap(ErrorTruncated, err.Error())
	}

	var h Header
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return nil, err
	}
	return &h, nil
}

// Validate checks a whole image file: header format, then the payload CRC
// streamed in header-declared chunks, which must agree with both the header
// and the trailer copy. It returns the header so the caller can reuse the
// already-parsed sizes. The reader is left positioned after the trailer.
func Validate(r io.ReadSeeker) (*Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, h.ChunkSize)
	sum := NewChecksum()
	for remain := h.ImageSize; remain > 0; {
		n := remain
		if n > h.ChunkSize {
			n = h.ChunkSize
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return nil, errors.Wrapf(ErrorTruncated, "payload read with %d bytes left: %v", remain, err)
		}
		sum.Update(buf[:n])
		remain -= n
	}

	var trailer [TrailerSize]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, errors.Wrap(ErrorTruncated, "missing CRC trailer")
	}

	computed := sum.CRC32()
	stored := binary.LittleEndian.Uint32(trailer[:])
	if computed != stored || computed != h.CRC32 {
		return nil, errors.Wrapf(ErrorInvalidCRC,
			"header=0x%08x trailer=0x%08x recomputed=0x%08x", h.CRC32, stored, computed)
	}

	return h, nil
}
