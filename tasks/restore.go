package tasks

import (
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"flashprobe/fimg"
	"flashprobe/spiflash"
)

var ErrNoImages = errors.New("no backup images found")

// RestoreResult separates "the data operation completed" from "the final
// verification confirmed it". A restore that programmed every byte but
// whose device readback checksum disagrees with the image completes with
// Verified false; it is the caller's job to surface that as a warning.
type RestoreResult struct {
	Path      string
	Header    *fimg.Header
	DeviceCRC uint32
	Verified  bool
}

// Restore validates an image file and writes it back to the device. With an
// empty name the most recently modified image in the backup directory is
// used. The file is fully validated (header, payload, trailer) before the
// first erase, so a corrupt image never touches the device.
func (t *Tasks) Restore(name string) (*RestoreResult, error) {
	path := name
	switch {
	case path == "":
		latest, err := t.latestImage()
		if err != nil {
			return nil, err
		}
		path = latest
	case !strings.ContainsAny(path, "/\\"):
		// bare filename given, look inside the backup directory
		path = t.cfg.BackupDir + "/" + path
	}
	t.log("restoring from %s", path)

	fp, err := t.store.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrNoImages, "open %s: %v", path, err)
	}
	defer fp.Close()

	h, err := fimg.Validate(fp)
	if err != nil {
		return nil, errors.Wrapf(err, "validate %s", path)
	}
	t.log("image CRC OK: 0x%08x", h.CRC32)

	t.log("erasing %d KiB...", h.FlashSize/1024)
	for a := uint32(0); a < h.FlashSize; a += spiflash.SectorSize {
		if err := t.flash.EraseSector(a); err != nil {
			return nil, errors.Wrap(err, "restore")
		}
		if a&0xFFFF == 0 {
			t.log("erased %d / %d KiB", (a+spiflash.SectorSize)/1024, h.FlashSize/1024)
		}
	}

	t.log("programming...")
	if _, err := fp.Seek(fimg.HeaderSize, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "restore: seek to image data")
	}

	buf := make([]byte, h.ChunkSize)
	var addr uint32
	for remain := h.ImageSize; remain > 0; {
		n := remain
		if n > h.ChunkSize {
			n = h.ChunkSize
		}
		if _, err := io.ReadFull(fp, buf[:n]); err != nil {
			return nil, errors.Wrapf(err, "restore: read image at offset 0x%08x", addr)
		}

		// a chunk may straddle device pages, clip each write to its page
		var off uint32
		for off < n {
			w := n - off
			if room := spiflash.PageRemain(addr + off); w > room {
				w = room
			}
			if err := t.flash.ProgramPage(addr+off, buf[off:off+w]); err != nil {
				return nil, errors.Wrap(err, "restore")
			}
			off += w
		}

		addr += n
		remain -= n
		if addr&0xFFFF == 0 {
			t.log("wrote %d / %d KiB", addr/1024, h.ImageSize/1024)
		}
	}

	devCRC, err := fimg.DeviceChecksum(t.flash.Read, h.ImageSize, h.ChunkSize)
	if err != nil {
		return nil, errors.Wrap(err, "restore: final verify")
	}

	res := &RestoreResult{
		Path:      path,
		Header:    h,
		DeviceCRC: devCRC,
		Verified:  devCRC == h.CRC32,
	}
	if res.Verified {
		t.log("restore OK: device matches image (crc=0x%08x)", devCRC)
	} else {
		t.log("WARNING: device CRC 0x%08x does not match image CRC 0x%08x", devCRC, h.CRC32)
	}
	return res, nil
}

// latestImage picks the most recently modified image file. When the
// filesystem reports no timestamps the lexicographically greatest filename
// wins, which is equivalent for the timestamp-prefixed names Backup writes.
func (t *Tasks) latestImage() (string, error) {
	if err := t.store.EnsureDir(t.cfg.BackupDir); err != nil {
		return "", err
	}
	infos, err := t.store.List(t.cfg.BackupDir)
	if err != nil {
		return "", err
	}

	var best FileInfo
	found := false
	for _, fi := range infos {
		if !strings.HasSuffix(fi.Name, fimg.Ext) {
			continue
		}
		if !found {
			best = fi
			found = true
			continue
		}

		var newer bool
		if fi.ModTime.IsZero() && best.ModTime.IsZero() {
			newer = fi.Name > best.Name
		} else {
			newer = fi.ModTime.After(best.ModTime)
		}
		if newer {
			best = fi
		}
	}

	if !found {
		return "", ErrNoImages
	}
	return t.cfg.BackupDir + "/" + best.Name, nil
}

// ListImages returns the paths of all image files in the backup directory.
func (t *Tasks) ListImages() ([]string, error) {
	if err := t.store.EnsureDir(t.cfg.BackupDir); err != nil {
		return nil, err
	}
	infos, err := t.store.List(t.cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, fi := range infos {
		if strings.HasSuffix(fi.Name, fimg.Ext) {
			out = append(out, t.cfg.BackupDir+"/"+fi.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}
