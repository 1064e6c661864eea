package brain

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/rcliao/cortex-brain/internal/model"
)

// LockPolicy decides what Open does when another process holds the brain.
type LockPolicy string

const (
	LockFailFast LockPolicy = "fail_fast"
	LockBlock    LockPolicy = "block"
)

// ParseLockPolicy validates a policy name. Empty input yields LockFailFast.
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch LockPolicy(s) {
	case "", LockFailFast:
		return LockFailFast, nil
	case LockBlock:
		return LockBlock, nil
	}
	return "", fmt.Errorf("%w: unknown lock policy %q", model.ErrInvalidArgument, s)
}

const lockRetryDelay = 50 * time.Millisecond

// acquireLock takes the directory lock: exclusive for writers, shared for
// read-only handles. With LockBlock it waits until ctx is done or timeout
// elapses (zero means no timeout).
func acquireLock(ctx context.Context, dir string, shared bool, policy LockPolicy, timeout time.Duration) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, lockFile))

	var (
		ok  bool
		err error
	)
	if policy == LockBlock {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if shared {
			ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
		} else {
			ok, err = fl.TryLockContext(ctx, lockRetryDelay)
		}
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrBrainLocked, filepath.Base(dir), ctx.Err())
		}
	} else if shared {
		ok, err = fl.TryRLock()
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(dir), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrBrainLocked, filepath.Base(dir))
	}
	return fl, nil
}
