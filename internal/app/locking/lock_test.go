package locking

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, acquired, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}

	_, again, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if again {
		t.Fatalf("held lock must not be re-acquired")
	}

	// Different keys are independent.
	releaseOther, other, err := locker.Acquire(ctx, "other", time.Minute)
	if err != nil || !other {
		t.Fatalf("independent key acquire: acquired=%v err=%v", other, err)
	}
	releaseOther(ctx)

	release(ctx)
	releaseAfter, reacquired, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil || !reacquired {
		t.Fatalf("acquire after release: acquired=%v err=%v", reacquired, err)
	}
	releaseAfter(ctx)
}

func TestMemoryLocker_TTLExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	// Holder that never releases.
	_, acquired, err := locker.Acquire(ctx, "tick", 10*time.Millisecond)
	if err != nil || !acquired {
		t.Fatalf("acquire: acquired=%v err=%v", acquired, err)
	}

	time.Sleep(20 * time.Millisecond)

	release, reacquired, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil || !reacquired {
		t.Fatalf("expired lock must be acquirable: acquired=%v err=%v", reacquired, err)
	}
	release(ctx)
}

func TestMemoryLocker_StaleReleaseKeepsNewOwner(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	staleRelease, acquired, err := locker.Acquire(ctx, "tick", 10*time.Millisecond)
	if err != nil || !acquired {
		t.Fatalf("acquire: acquired=%v err=%v", acquired, err)
	}

	time.Sleep(20 * time.Millisecond)

	release, reacquired, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil || !reacquired {
		t.Fatalf("acquire after expiry: acquired=%v err=%v", reacquired, err)
	}

	// The first holder releasing after its TTL lapsed must not evict the
	// current owner.
	staleRelease(ctx)

	_, stolen, err := locker.Acquire(ctx, "tick", time.Minute)
	if err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if stolen {
		t.Fatalf("stale release dropped the current owner's lock")
	}
	release(ctx)
}
