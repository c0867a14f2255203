// Package fsstore implements the coordination store port on a shared
// directory of JSON records, mirroring the swarm layout the workers
// themselves see:
//
//	<root>/TASKS/<LANE>/<ID>.json
//	<root>/WORKERS/<name>.json
//	<root>/LOCKS/<mangled-path>.lock
//	<root>/WAVE.json
//	<root>/INBOX/<LANE>_<ID>_RESULT.json
//	<root>/INBOX/ARCHIVE/   collected results (audit trail)
//	<root>/INBOX/QUARANTINE/ malformed results
//
// Records become visible atomically (write-temp-then-rename), so a reader
// never observes a half-written record. Read-modify-write sequences are
// serialized across processes by a transaction sentinel (see txn.go), which
// is what makes version-checked updates an honest compare-and-swap rather
// than a blind overwrite.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain"
)

const (
	tasksDir      = "TASKS"
	workersDir    = "WORKERS"
	locksDir      = "LOCKS"
	inboxDir      = "INBOX"
	archiveDir    = "ARCHIVE"
	quarantineDir = "QUARANTINE"
	waveFile      = "WAVE.json"
)

// Store implements database.Store on a swarm directory.
type Store struct {
	root          string
	txnStaleAfter time.Duration

	// Now is the clock used for lock expiry and archive stamps.
	// Overridable in tests.
	Now func() time.Time
}

// New creates a Store rooted at cfg.Root, creating the directory layout if
// it does not exist yet.
func New(cfg config.FS) (*Store, error) {
	s := &Store{
		root:          cfg.Root,
		txnStaleAfter: cfg.TxnStaleAfter,
		Now:           time.Now,
	}
	if s.txnStaleAfter <= 0 {
		s.txnStaleAfter = 5 * time.Second
	}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureLayout() error {
	dirs := []string{
		s.root,
		filepath.Join(s.root, tasksDir),
		filepath.Join(s.root, workersDir),
		filepath.Join(s.root, locksDir),
		filepath.Join(s.root, inboxDir),
		filepath.Join(s.root, inboxDir, archiveDir),
		filepath.Join(s.root, inboxDir, quarantineDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", domain.ErrDurability, d, err)
		}
	}
	return nil
}

// writeJSON makes v visible at path atomically: the record is written to a
// temp file in the same directory and renamed into place.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrDurability, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", domain.ErrDurability, path, err)
	}
	return nil
}

// readJSON decodes the record at path into v. Missing files map to
// domain.ErrNotFound.
func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: paths are built from validated record keys
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", filepath.Base(path), domain.ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Reset clears all coordination state and recreates the empty layout.
func (s *Store) Reset(_ context.Context) error {
	entries := []string{
		filepath.Join(s.root, tasksDir),
		filepath.Join(s.root, workersDir),
		filepath.Join(s.root, locksDir),
		filepath.Join(s.root, inboxDir),
		filepath.Join(s.root, waveFile),
		filepath.Join(s.root, txnSentinel),
	}
	for _, e := range entries {
		if err := os.RemoveAll(e); err != nil {
			return fmt.Errorf("%w: reset %s: %v", domain.ErrDurability, e, err)
		}
	}
	return s.ensureLayout()
}

// Ping reports whether the swarm root is reachable and writable.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("swarm root %s: %w", s.root, err)
	}
	probe := filepath.Join(s.root, ".ping")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("%w: swarm root not writable: %v", domain.ErrDurability, err)
	}
	return os.Remove(probe)
}
