package journal

// journal.go — append-only JSONL event log plus derived-index I/O.
//
// The journal is the durability source of truth for position lifecycle.
// Records are never rewritten; a crash mid-append tears at most the trailing
// line, which readers skip.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/state"
)

// Journal appends lifecycle events and loads/saves the derived index.
type Journal struct {
	store *state.SnapshotStore
}

// New returns a Journal that persists the index through store.
func New(store *state.SnapshotStore) *Journal {
	return &Journal{store: store}
}

// Append writes one newline-delimited JSON record to the log at path,
// creating parent directories as needed. Pure append: no read-modify-write.
func (j *Journal) Append(path string, ev domain.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal.Append: mkdir: %w", err)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("journal.Append: marshal: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal.Append: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("journal.Append: write: %w", err)
	}
	return nil
}

// LoadIndex reads the derived index document, default-initializing empty
// maps when the file is absent or unreadable.
func (j *Journal) LoadIndex(path string) *domain.PositionIndex {
	idx := domain.NewPositionIndex()
	if err := j.store.Read(path, idx); err != nil {
		return domain.NewPositionIndex()
	}
	idx.Normalize()
	return idx
}

// SaveIndex persists the index atomically.
func (j *Journal) SaveIndex(path string, idx *domain.PositionIndex) error {
	if err := j.store.Write(path, idx); err != nil {
		return fmt.Errorf("journal.SaveIndex: %w", err)
	}
	return nil
}

// replay streams every parseable event in the log at path. Unparseable
// lines, including a torn trailing line from a crash mid-append, are
// skipped silently. A missing file yields no events and no error.
func replay(path string, fn func(domain.Event)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal.replay: open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev domain.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		if ev.SignalID == "" || ev.Type == "" {
			continue
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("journal.replay: scan: %w", err)
	}
	return nil
}
