package fsstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
)

// txnSentinel is the store-wide mutation sentinel. O_EXCL creation of this
// file serializes read-modify-write sequences across processes sharing the
// swarm directory. Readers never take it; rename-based record visibility
// covers them.
const txnSentinel = ".swarmlock"

// txnRetryInterval is how long a writer sleeps between acquisition attempts.
const txnRetryInterval = 5 * time.Millisecond

// txnMaxWait bounds how long a writer will contend for the sentinel before
// giving up. Mutations are tiny (a handful of small files), so hitting this
// means something is wrong, not that the store is busy.
const txnMaxWait = 3 * time.Second

// withTxn runs fn while holding the mutation sentinel. A sentinel left
// behind by a crashed process is taken over once it is older than the
// configured stale age.
func (s *Store) withTxn(fn func() error) error {
	path := filepath.Join(s.root, txnSentinel)
	deadline := s.Now().Add(txnMaxWait)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "pid=%d\n", os.Getpid())
			_ = f.Close()
			break
		}
		if !os.IsExist(err) {
			return fmt.Errorf("%w: txn sentinel: %v", domain.ErrDurability, err)
		}

		// Held by someone. Take over only if it looks abandoned.
		if info, statErr := os.Stat(path); statErr == nil {
			if s.Now().Sub(info.ModTime()) > s.txnStaleAfter {
				_ = os.Remove(path)
				continue
			}
		}

		if s.Now().After(deadline) {
			return fmt.Errorf("%w: txn sentinel held too long", domain.ErrConflict)
		}
		time.Sleep(txnRetryInterval)
	}

	defer func() { _ = os.Remove(path) }()
	return fn()
}
