package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const defaultConfigFile = "flashprobe.toml"

type Config struct {
	Port string `toml:"port"`
	Baud int    `toml:"baud"`

	// StorageRoot is where the mounted removable medium lives; the backup
	// directory and the chip database are resolved inside it.
	StorageRoot string `toml:"storage_root"`
	BackupDir   string `toml:"backup_dir"`
	Database    string `toml:"database"`

	ChunkBytes      uint32 `toml:"chunk_bytes"`
	DefaultCapacity uint32 `toml:"default_capacity"`
}

func defaultConfig() Config {
	return Config{
		Port:            "/dev/ttyACM0",
		Baud:            115200,
		StorageRoot:     ".",
		BackupDir:       "FLASHIMG",
		Database:        "Embedded_datasheet.csv",
		ChunkBytes:      4096,
		DefaultCapacity: 16 * 1024 * 1024,
	}
}

// loadConfig layers a TOML file over the defaults. With an empty path the
// default file is used when present and silently skipped when absent; an
// explicitly named file must exist.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return cfg, nil
		}
		path = defaultConfigFile
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}
