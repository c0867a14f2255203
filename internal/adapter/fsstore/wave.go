package fsstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/wave"
)

func (s *Store) wavePath() string {
	return filepath.Join(s.root, waveFile)
}

func (s *Store) GetWave(_ context.Context) (*wave.Wave, error) {
	var w wave.Wave
	err := s.readJSON(s.wavePath(), &w)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &wave.Wave{Number: 0, Status: wave.StatusComposing}, nil
		}
		return nil, fmt.Errorf("get wave: %w", err)
	}
	return &w, nil
}

// PutWave persists the singleton with a version check. Wave numbers must be
// durable before they are visible: the write completes (rename included)
// before the bumped record is handed back to the caller.
func (s *Store) PutWave(_ context.Context, w *wave.Wave) error {
	return s.withTxn(func() error {
		var cur wave.Wave
		curVersion := 0
		if err := s.readJSON(s.wavePath(), &cur); err == nil {
			curVersion = cur.Version
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("put wave: %w", err)
		}
		if w.Version != curVersion {
			return fmt.Errorf("put wave: %w", domain.ErrConflict)
		}
		w.Version++
		w.UpdatedAt = s.Now()
		return s.writeJSON(s.wavePath(), w)
	})
}
