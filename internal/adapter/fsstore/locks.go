package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
)

func (s *Store) lockPath(path string) string {
	return filepath.Join(s.root, locksDir, mangle(path)+".lock")
}

// AcquireLocks performs an all-or-nothing group acquisition under the
// mutation sentinel: conflicts are detected against non-expired records
// before anything is written, so a partial grant is never visible.
func (s *Store) AcquireLocks(_ context.Context, locks []lock.Lock) ([]lock.Lock, error) {
	var conflicts []lock.Lock
	err := s.withTxn(func() error {
		now := s.Now()
		for _, l := range locks {
			var cur lock.Lock
			err := s.readJSON(s.lockPath(l.Path), &cur)
			if err != nil {
				continue // absent or unreadable counts as free
			}
			if !cur.Expired(now) && cur.Holder != l.Holder {
				conflicts = append(conflicts, cur)
			}
		}
		if len(conflicts) > 0 {
			return nil
		}
		for _, l := range locks {
			if err := s.writeJSON(s.lockPath(l.Path), &l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// ReleaseLocks removes lock records whose holder matches. Expired records
// found along the way are cleaned up regardless of holder (lazy expiry).
func (s *Store) ReleaseLocks(_ context.Context, paths []string, holder string) ([]string, error) {
	var released []string
	err := s.withTxn(func() error {
		now := s.Now()
		for _, p := range paths {
			lp := s.lockPath(p)
			var cur lock.Lock
			if err := s.readJSON(lp, &cur); err != nil {
				continue
			}
			switch {
			case cur.Holder == holder:
				if err := os.Remove(lp); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("%w: release %s: %v", domain.ErrDurability, p, err)
				}
				released = append(released, p)
			case cur.Expired(now):
				_ = os.Remove(lp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (s *Store) ListLocks(_ context.Context) ([]lock.Lock, error) {
	dir := filepath.Join(s.root, locksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list locks: %w", err)
	}

	locks := make([]lock.Lock, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		var l lock.Lock
		if err := s.readJSON(filepath.Join(dir, e.Name()), &l); err != nil {
			continue // skip corrupt lock records; next acquire replaces them
		}
		locks = append(locks, l)
	}

	sort.Slice(locks, func(i, j int) bool { return locks[i].Path < locks[j].Path })
	return locks, nil
}
