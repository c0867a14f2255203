package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/task"
)

func (s *Store) taskPath(lane task.Lane, id string) string {
	return filepath.Join(s.root, tasksDir, string(lane), id+".json")
}

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	laneDir := filepath.Join(s.root, tasksDir, string(t.Lane))
	if err := os.MkdirAll(laneDir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", domain.ErrDurability, laneDir, err)
	}

	path := s.taskPath(t.Lane, t.ID)
	return s.withTxn(func() error {
		if _, err := os.Stat(path); err == nil {
			// First writer wins; this caller lost the race.
			return fmt.Errorf("create task %s: %w", t.Key(), domain.ErrConflict)
		}
		return s.writeJSON(path, t)
	})
}

func (s *Store) GetTask(_ context.Context, lane task.Lane, id string) (*task.Task, error) {
	var t task.Task
	if err := s.readJSON(s.taskPath(lane, id), &t); err != nil {
		return nil, fmt.Errorf("get task %s: %w", task.Key(lane, id), err)
	}
	return &t, nil
}

func (s *Store) ListTasks(_ context.Context, lane task.Lane) ([]task.Task, error) {
	lanes := task.Lanes()
	if lane != "" {
		lanes = []task.Lane{lane}
	}

	var tasks []task.Task
	for _, ln := range lanes {
		laneDir := filepath.Join(s.root, tasksDir, string(ln))
		entries, err := os.ReadDir(laneDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			var t task.Task
			if err := s.readJSON(filepath.Join(laneDir, e.Name()), &t); err != nil {
				return nil, fmt.Errorf("list tasks: %w", err)
			}
			tasks = append(tasks, t)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].Key() < tasks[j].Key()
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	path := s.taskPath(t.Lane, t.ID)
	return s.withTxn(func() error {
		var cur task.Task
		if err := s.readJSON(path, &cur); err != nil {
			return fmt.Errorf("update task %s: %w", t.Key(), err)
		}
		if cur.Version != t.Version {
			return fmt.Errorf("update task %s: %w", t.Key(), domain.ErrConflict)
		}
		t.Version++
		t.UpdatedAt = s.Now()
		return s.writeJSON(path, t)
	})
}

func (s *Store) DeleteTask(_ context.Context, lane task.Lane, id string) error {
	err := os.Remove(s.taskPath(lane, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete task %s: %v", domain.ErrDurability, task.Key(lane, id), err)
	}
	return nil
}
