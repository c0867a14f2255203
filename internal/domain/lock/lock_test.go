package lock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
)

func TestExpired(t *testing.T) {
	acquired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := lock.Lock{Path: "src/main.go", Holder: "w1", TTLSeconds: 300, AcquiredAt: acquired}

	if want := acquired.Add(5 * time.Minute); !l.ExpiresAt().Equal(want) {
		t.Errorf("ExpiresAt() = %s, want %s", l.ExpiresAt(), want)
	}
	if l.Expired(acquired.Add(299 * time.Second)) {
		t.Error("lock should still be live before its TTL elapses")
	}
	if l.Expired(acquired.Add(300 * time.Second)) {
		t.Error("lock expires strictly after ExpiresAt, not at it")
	}
	if !l.Expired(acquired.Add(301 * time.Second)) {
		t.Error("lock should be expired past its TTL")
	}
}

func TestConflictError(t *testing.T) {
	var err error = &lock.ConflictError{
		ConflictingPaths: []string{"a.go", "b.go"},
		CurrentHolder:    "w2",
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Error("ConflictError should unwrap to ErrConflict")
	}
}
