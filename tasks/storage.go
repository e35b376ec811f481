package tasks

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes one directory entry. ModTime is the zero time when the
// underlying filesystem keeps no timestamps.
type FileInfo struct {
	Name    string
	ModTime time.Time
}

type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// Storage is the narrow view of removable storage the workflows need:
// directory creation, enumeration, and sequential file access with a single
// in-place header rewrite at offset 0.
type Storage interface {
	EnsureDir(dir string) error
	List(dir string) ([]FileInfo, error)
	Create(path string) (File, error)
	Open(path string) (File, error)
}

// DirStorage implements Storage on a host directory. Paths handed to it use
// forward slashes regardless of platform.
type DirStorage struct {
	Root string
}

func (s DirStorage) resolve(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path))
}

func (s DirStorage) EnsureDir(dir string) error {
	return os.MkdirAll(s.resolve(dir), 0755)
}

func (s DirStorage) List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.resolve(dir))
	if err != nil {
		return nil, err
	}

	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi := FileInfo{Name: e.Name()}
		if info, err := e.Info(); err == nil {
			fi.ModTime = info.ModTime()
		}
		out = append(out, fi)
	}
	return out, nil
}

func (s DirStorage) Create(path string) (File, error) {
	return os.Create(s.resolve(path))
}

func (s DirStorage) Open(path string) (File, error) {
	return os.Open(s.resolve(path))
}
