// Package tasks wires the flash driver, image format, benchmark and chip
// database into the operator-facing workflows: backup, restore, identify
// and image listing.
package tasks

import (
	"fmt"
	"time"

	"flashprobe/chipdb"
	"flashprobe/fimg"
	"flashprobe/spiflash"
)

const (
	DefaultBackupDir    = "FLASHIMG"
	DefaultDatabasePath = "Embedded_datasheet.csv"
	DefaultChunkBytes   = 4096
	DefaultCapacity     = 16 * 1024 * 1024
)

type Config struct {
	BackupDir       string
	DatabasePath    string
	ChunkBytes      uint32
	DefaultCapacity uint32
}

type Tasks struct {
	flash *spiflash.Flash
	store Storage
	cfg   Config

	// db lives for the process and is reloaded at the start of every
	// identification run.
	db chipdb.DB

	LogFunc func(format string, params ...any)
}

// overridable in tests, filenames embed the current time
var timeNow = time.Now

func New(flash *spiflash.Flash, store Storage, cfg Config) *Tasks {
	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultBackupDir
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.ChunkBytes == 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.DefaultCapacity == 0 {
		cfg.DefaultCapacity = DefaultCapacity
	}

	t := &Tasks{
		flash: flash,
		store: store,
		cfg:   cfg,
	}
	t.db.LogFunc = t.log
	return t
}

func (t *Tasks) log(format string, params ...any) {
	if t.LogFunc != nil {
		t.LogFunc(format, params...)
	}
}

// deviceSize resolves the device capacity from its JEDEC capacity code,
// falling back to the configured default when the code is outside the known
// range. There is deliberately no extended-metadata probe.
func (t *Tasks) deviceSize(id spiflash.ID) uint32 {
	if size, ok := spiflash.CapacityBytes(id.CapacityCode); ok {
		return size
	}
	t.log("capacity code 0x%02x outside known range, assuming %d bytes",
		id.CapacityCode, t.cfg.DefaultCapacity)
	return t.cfg.DefaultCapacity
}

func imageName(ts int64, id spiflash.ID) string {
	return fmt.Sprintf("t%010d_%s%s", ts, id, fimg.Ext)
}
