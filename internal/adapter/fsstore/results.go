package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/port/database"
)

const resultSuffix = "_RESULT.json"

func (s *Store) resultName(r *result.Result) string {
	return string(r.Lane) + "_" + r.TaskID + resultSuffix
}

func (s *Store) PutResult(_ context.Context, r *result.Result) error {
	return s.writeJSON(filepath.Join(s.root, inboxDir, s.resultName(r)), r)
}

// ListPendingResults returns every uncollected inbox record. A record that
// fails to decode is returned with Err set so the collector can quarantine
// it instead of aborting the pass.
func (s *Store) ListPendingResults(_ context.Context) ([]database.PendingResult, error) {
	dir := filepath.Join(s.root, inboxDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list results: %w", err)
	}

	var pending []database.PendingResult
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p := database.PendingResult{Name: e.Name()}
		data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // G304: name comes from ReadDir
		if err != nil {
			p.Err = err
		} else {
			var r result.Result
			if err := json.Unmarshal(data, &r); err != nil {
				p.Err = fmt.Errorf("decode %s: %w", e.Name(), err)
			} else {
				p.Result = &r
			}
		}
		pending = append(pending, p)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })
	return pending, nil
}

// ArchiveResult moves a collected record into INBOX/ARCHIVE, stamped with
// the collection time so re-submissions never collide. The raw record is
// preserved for audit; it is the move itself that makes a second collection
// pass a no-op.
func (s *Store) ArchiveResult(_ context.Context, name string) error {
	return s.moveResult(name, archiveDir)
}

// QuarantineResult moves a malformed record into INBOX/QUARANTINE.
func (s *Store) QuarantineResult(_ context.Context, name string) error {
	return s.moveResult(name, quarantineDir)
}

func (s *Store) moveResult(name, destDir string) error {
	src := filepath.Join(s.root, inboxDir, name)
	stamp := s.Now().UTC().Format("20060102T150405.000000000")
	dst := filepath.Join(s.root, inboxDir, destDir, name+"."+stamp)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("move result %s: %w", name, domain.ErrNotFound)
		}
		return fmt.Errorf("%w: move result %s: %v", domain.ErrDurability, name, err)
	}
	return nil
}
