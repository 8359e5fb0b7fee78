package state

// snapshot.go — atomic single-document JSON persistence.
//
// Write sequence: copy current file to .bak (best effort), serialize to
// .tmp, fsync, rename over the target, fsync the parent directory. A crash
// at any byte offset leaves either the previous document (primary or .bak)
// or the new one observable, never a truncated file.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotFound signals that neither the primary file nor its backup holds a
// usable document. Callers start fresh.
var ErrNotFound = errors.New("state: document not found")

// SnapshotStore reads and writes a single JSON document atomically.
type SnapshotStore struct{}

// NewSnapshotStore returns a store. It carries no state; it exists so the
// write policy is injectable in tests.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Write atomically replaces the document at path with doc.
// Backup and fsync failures degrade durability but never abort the write;
// only serialization and the final rename are fatal.
func (s *SnapshotStore) Write(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state.Write: mkdir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			slog.Warn("snapshot backup failed", "path", path, "err", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state.Write: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("state.Write: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("state.Write: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		slog.Warn("snapshot fsync failed", "path", tmp, "err", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state.Write: close tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state.Write: rename: %w", err)
	}

	syncDir(filepath.Dir(path))
	return nil
}

// Read loads the document at path into out. On a missing or corrupt primary
// it falls back to path.bak; when both fail it returns ErrNotFound.
func (s *SnapshotStore) Read(path string, out any) error {
	if err := readJSON(path, out); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		slog.Warn("snapshot unreadable, trying backup", "path", path, "err", err)
	}

	if err := readJSON(path+".bak", out); err == nil {
		slog.Info("snapshot recovered from backup", "path", path+".bak")
		return nil
	}

	return ErrNotFound
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// syncDir fsyncs a directory so a completed rename survives power loss.
// Best effort: some filesystems reject directory fsync.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		slog.Debug("dir fsync failed", "dir", dir, "err", err)
	}
}
