package vfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zstd"
)

// EncodeSnapshot serializes snap as zstd-compressed JSON.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	raw, err := sonic.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	snap := Snapshot{}
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// SaveSnapshot writes snap to file atomically.
func SaveSnapshot(file string, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(file string) (Snapshot, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// LoadDir walks a real directory and returns its files and directories as
// snapshot entries mounted under prefix.
func LoadDir(root, prefix string) (Snapshot, error) {
	var (
		mu   sync.Mutex
		snap = Snapshot{Clean(prefix): DirEntry()}
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		target := Join(prefix, filepath.ToSlash(rel))

		var e Entry
		switch {
		case d.IsDir():
			e = DirEntry()
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			e = FileEntry(data)
		default:
			return nil
		}

		mu.Lock()
		snap[target] = e
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load dir %s: %w", root, err)
	}
	return snap, nil
}
