package peerstore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend persists the blob to a single file with atomic rename.
type FileBackend struct {
	Path string
}

func (b FileBackend) Load() ([]byte, error) {
	blob, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (b FileBackend) Save(blob []byte) error {
	tmp := b.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// MemBackend keeps the blob in memory; used by tests and the loopback
// bench setup.
type MemBackend struct {
	blob []byte
}

func (b *MemBackend) Load() ([]byte, error) {
	if b.blob == nil {
		return nil, nil
	}
	out := make([]byte, len(b.blob))
	copy(out, b.blob)
	return out, nil
}

func (b *MemBackend) Save(blob []byte) error {
	b.blob = make([]byte, len(blob))
	copy(b.blob, blob)
	return nil
}
