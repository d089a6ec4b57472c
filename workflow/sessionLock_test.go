package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireLocalRun_AdmitsExactlyOneWinner(t *testing.T) {
	const racers = 50
	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if acquireLocalRun(42, "2026-01") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner out of %d racers, got %d", racers, winners)
	}

	// Released keys admit the next caller.
	releaseLocalRun(42, "2026-01")
	if !acquireLocalRun(42, "2026-01") {
		t.Fatal("expected acquisition to succeed after release")
	}
	releaseLocalRun(42, "2026-01")
}

func TestAcquireLocalRun_KeysAreIndependent(t *testing.T) {
	if !acquireLocalRun(1, "2026-01") {
		t.Fatal("expected first key to acquire")
	}
	defer releaseLocalRun(1, "2026-01")

	if !acquireLocalRun(1, "2026-02") {
		t.Fatal("a held period must not block a different period")
	}
	releaseLocalRun(1, "2026-02")

	if !acquireLocalRun(2, "2026-01") {
		t.Fatal("a held property must not block a different property")
	}
	releaseLocalRun(2, "2026-01")

	if acquireLocalRun(1, "2026-01") {
		t.Fatal("the held key must stay exclusive")
	}
}

func TestRunLease_NoRedisConfigured(t *testing.T) {
	// Without a connected redis client the lease degrades to a no-op and the
	// advisory lock carries mutual exclusion alone.
	ctx := context.Background()
	lease, err := AcquireRunLease(ctx, 7, "2026-03", 30*time.Second)
	if err != nil {
		t.Fatalf("expected no error without redis, got %v", err)
	}
	if lease != nil {
		t.Fatal("expected a nil lease without redis")
	}
	RefreshRunLease(ctx, lease, 30*time.Second)
	ReleaseRunLease(ctx, lease)
}
