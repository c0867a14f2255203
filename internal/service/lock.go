package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hivetown/swarmd/internal/adapter/otel"
	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/port/database"
)

// LockService owns file reservations. Acquisition is non-blocking and
// all-or-nothing over the requested group; conflicts come back as data,
// never as a wait.
type LockService struct {
	store   database.Store
	relay   *Relay
	cfg     config.Swarm
	metrics *otel.Metrics
	now     func() time.Time
}

// NewLockService creates a LockService. metrics may be nil.
func NewLockService(store database.Store, relay *Relay, cfg config.Swarm, metrics *otel.Metrics) *LockService {
	return &LockService{store: store, relay: relay, cfg: cfg, metrics: metrics, now: time.Now}
}

// Grant is the outcome of a successful group acquisition. The token is
// shared by every path in the group.
type Grant struct {
	Token     string    `json:"token"`
	Paths     []string  `json:"paths"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Acquire reserves every requested path for the holder, or none of them.
// Same-holder re-acquisition refreshes the TTL under a fresh token.
func (s *LockService) Acquire(ctx context.Context, req lock.AcquireRequest) (*Grant, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("%w: at least one path is required", domain.ErrValidation)
	}
	if req.Holder == "" {
		return nil, fmt.Errorf("%w: holder is required", domain.ErrValidation)
	}

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = int(s.cfg.LockTTL / time.Second)
	}
	if ttl <= 0 {
		ttl = lock.DefaultTTLSeconds
	}

	now := s.now()
	token := uuid.NewString()
	locks := make([]lock.Lock, 0, len(req.Paths))
	seen := make(map[string]struct{}, len(req.Paths))
	for _, p := range req.Paths {
		if p == "" {
			return nil, fmt.Errorf("%w: empty path in group", domain.ErrValidation)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		locks = append(locks, lock.Lock{
			Path:       p,
			Holder:     req.Holder,
			Token:      token,
			TTLSeconds: ttl,
			AcquiredAt: now,
		})
	}

	conflicts, err := s.store.AcquireLocks(ctx, locks)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		paths := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			paths = append(paths, c.Path)
		}
		sort.Strings(paths)
		if s.metrics != nil {
			s.metrics.LockConflicts.Add(ctx, 1)
		}
		s.relay.Emit(ctx, subjectLockConflict, EventLockConflict, LockEvent{
			Holder: req.Holder, Paths: req.Paths, Conflicts: paths,
		})
		return nil, &lock.ConflictError{ConflictingPaths: paths, CurrentHolder: conflicts[0].Holder}
	}

	granted := make([]string, len(locks))
	for i, l := range locks {
		granted[i] = l.Path
	}
	s.relay.Emit(ctx, subjectLockAcquired, EventLockAcquired, LockEvent{
		Holder: req.Holder, Paths: granted,
	})
	return &Grant{
		Token:     token,
		Paths:     granted,
		Holder:    req.Holder,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
	}, nil
}

// Release frees the holder's reservations on the given paths and returns the
// paths actually released. Releasing a path the holder does not hold is not
// an error; the path is simply absent from the returned list.
func (s *LockService) Release(ctx context.Context, req lock.ReleaseRequest) ([]string, error) {
	if req.Holder == "" {
		return nil, fmt.Errorf("%w: holder is required", domain.ErrValidation)
	}
	released, err := s.store.ReleaseLocks(ctx, req.Paths, req.Holder)
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ReleaseAll frees every reservation the holder still has. Used by the
// collector after ingesting a worker's result.
func (s *LockService) ReleaseAll(ctx context.Context, holder string) ([]string, error) {
	locks, err := s.store.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, l := range locks {
		if l.Holder == holder {
			paths = append(paths, l.Path)
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return s.store.ReleaseLocks(ctx, paths, holder)
}

// Check reports whether a path is currently reserved and by whom. An
// expired record reads as free.
func (s *LockService) Check(ctx context.Context, path string) (*lock.Lock, bool, error) {
	locks, err := s.store.ListLocks(ctx)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	for i := range locks {
		if locks[i].Path == path && !locks[i].Expired(now) {
			return &locks[i], true, nil
		}
	}
	return nil, false, nil
}

// List returns every non-expired reservation.
func (s *LockService) List(ctx context.Context) ([]lock.Lock, error) {
	locks, err := s.store.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := locks[:0]
	for _, l := range locks {
		if !l.Expired(now) {
			active = append(active, l)
		}
	}
	return active, nil
}
