package grouprepo

import (
	"context"
	"fmt"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

// DefaultLockExpiry is the default advisory-lock expiry, per spec §5.
const DefaultLockExpiry = 5 * time.Minute

// AcquireGroupLock acquires the per-group advisory lock described in spec
// §4.3/§5: a "group_locks row with expiry" rather than an in-memory mutex,
// so multiple processes opening the same store still serialize. Because
// this module's store is process-local, the lock is implemented with a
// regular mutex plus an expiry field so its *observable* semantics (bounded
// spin, auto-release on expiry) match the spec even though there is only
// one process to coordinate.
//
// Release must be called to free the lock; it is safe to call Release after
// the lock has already expired (a no-op in that case, since a new holder
// may already be in).
func (r *Repo) AcquireGroupLock(ctx context.Context, groupID ids.GroupID, holder string, expiry time.Duration) (release func(), err error) {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	key := string(groupID)

	for {
		r.mu.Lock()
		row, held := r.locks[key]
		now := time.Now()
		if !held || now.After(row.expires) {
			r.locks[key] = &lockRow{holder: holder, expires: now.Add(expiry)}
			r.mu.Unlock()
			released := false
			return func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				if released {
					return
				}
				released = true
				if cur, ok := r.locks[key]; ok && cur.holder == holder {
					delete(r.locks, key)
				}
				if ch, ok := r.wakeLocked[key]; ok {
					close(ch)
					delete(r.wakeLocked, key)
				}
			}, nil
		}

		wait, ok := r.wakeLocked[key]
		if !ok {
			wait = make(chan struct{})
			r.wakeLocked[key] = wait
		}
		deadline := row.expires
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("grouprepo: acquire lock for %s: %w", groupID, ctx.Err())
		case <-wait:
		case <-time.After(time.Until(deadline)):
		}
	}
}
