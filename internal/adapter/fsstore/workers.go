package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/worker"
)

func (s *Store) workerPath(name string) string {
	return filepath.Join(s.root, workersDir, mangle(name)+".json")
}

func (s *Store) CreateWorker(_ context.Context, w *worker.Worker) error {
	path := s.workerPath(w.Name)
	return s.withTxn(func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("create worker %s: %w", w.Name, domain.ErrConflict)
		}
		return s.writeJSON(path, w)
	})
}

func (s *Store) GetWorker(_ context.Context, name string) (*worker.Worker, error) {
	var w worker.Worker
	if err := s.readJSON(s.workerPath(name), &w); err != nil {
		return nil, fmt.Errorf("get worker %s: %w", name, err)
	}
	return &w, nil
}

func (s *Store) ListWorkers(_ context.Context) ([]worker.Worker, error) {
	dir := filepath.Join(s.root, workersDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workers: %w", err)
	}

	workers := make([]worker.Worker, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var w worker.Worker
		if err := s.readJSON(filepath.Join(dir, e.Name()), &w); err != nil {
			return nil, fmt.Errorf("list workers: %w", err)
		}
		workers = append(workers, w)
	}

	sort.Slice(workers, func(i, j int) bool {
		if workers[i].RegisteredAt.Equal(workers[j].RegisteredAt) {
			return workers[i].Name < workers[j].Name
		}
		return workers[i].RegisteredAt.Before(workers[j].RegisteredAt)
	})
	return workers, nil
}

func (s *Store) DeleteWorker(_ context.Context, name string) error {
	err := os.Remove(s.workerPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete worker %s: %v", domain.ErrDurability, name, err)
	}
	return nil
}

// mangle turns an arbitrary record key into a flat file name. Same scheme
// the workers' own tooling uses for lock files, so the directory stays
// human-inspectable.
func mangle(key string) string {
	return strings.NewReplacer("/", "__", "\\", "__", ":", "_", " ", "_").Replace(key)
}
