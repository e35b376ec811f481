package tasks

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"flashprobe/fimg"
)

type BackupResult struct {
	Path  string
	ID    [3]byte
	Size  uint32
	CRC32 uint32
}

// Backup reads the whole device into a new image file under the backup
// directory. The header is written provisionally with a zero checksum and
// rewritten in place once the payload checksum is known. A failure part way
// leaves the partial file behind on purpose: its checksum can never
// validate, so restore-time validation is the single place that decides
// whether a file is trustworthy.
func (t *Tasks) Backup() (*BackupResult, error) {
	id, err := t.flash.ReadJEDEC()
	if err != nil {
		return nil, errors.Wrap(err, "backup")
	}

	size := t.deviceSize(id)

	if err := t.store.EnsureDir(t.cfg.BackupDir); err != nil {
		return nil, errors.Wrapf(err, "backup: create %s", t.cfg.BackupDir)
	}

	path := t.cfg.BackupDir + "/" + imageName(timeNow().Unix(), id)
	fp, err := t.store.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "backup: create %s", path)
	}
	defer fp.Close()

	hdr := fimg.Header{
		JEDEC:     [3]byte{id.Manufacturer, id.MemType, id.CapacityCode},
		FlashSize: size,
		ChunkSize: t.cfg.ChunkBytes,
		ImageSize: size,
	}
	hb, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := fp.Write(hb); err != nil {
		return nil, errors.Wrap(err, "backup: write header")
	}

	buf := make([]byte, t.cfg.ChunkBytes)
	sum := fimg.NewChecksum()

	var addr uint32
	for remain := size; remain > 0; {
		n := remain
		if n > t.cfg.ChunkBytes {
			n = t.cfg.ChunkBytes
		}
		if err := t.flash.Read(addr, buf[:n]); err != nil {
			return nil, errors.Wrap(err, "backup")
		}
		sum.Update(buf[:n])
		if _, err := fp.Write(buf[:n]); err != nil {
			return nil, errors.Wrapf(err, "backup: write at offset 0x%08x", addr)
		}

		addr += n
		remain -= n
		if addr&0xFFFF == 0 {
			t.log("backup %d / %d KiB", addr/1024, size/1024)
		}
	}

	crc := sum.CRC32()

	var trailer [fimg.TrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc)
	if _, err := fp.Write(trailer[:]); err != nil {
		return nil, errors.Wrap(err, "backup: write CRC trailer")
	}

	// backfill the header checksum at offset 0
	hdr.CRC32 = crc
	hb, err = hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "backup: seek for header backfill")
	}
	if _, err := fp.Write(hb); err != nil {
		return nil, errors.Wrap(err, "backup: header backfill")
	}

	t.log("backup OK: %s (size=%d, crc=0x%08x)", path, size, crc)

	return &BackupResult{
		Path:  path,
		ID:    hdr.JEDEC,
		Size:  size,
		CRC32: crc,
	}, nil
}
