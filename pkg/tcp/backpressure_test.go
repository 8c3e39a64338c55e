package tcp

import (
	"sync"
	"testing"
)

func TestBackpressureController_RejectsAtCapacity(t *testing.T) {
	t.Parallel()

	bc := NewBackpressureController(2)

	if !bc.TryAcquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if !bc.TryAcquire() {
		t.Fatalf("expected second acquire to succeed")
	}
	if bc.TryAcquire() {
		t.Fatalf("expected third acquire to be rejected")
	}

	m := bc.GetMetrics()
	if m.RejectedCount != 1 || m.CurrentLoad != 2 || m.Utilization != 100 {
		t.Fatalf("metrics = %+v", m)
	}

	bc.Release()
	if !bc.TryAcquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestBackpressureController_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	t.Parallel()

	const capacity = 10
	bc := NewBackpressureController(capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bc.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != capacity {
		t.Fatalf("acquired = %d, want %d", acquired, capacity)
	}
	if got := bc.GetMetrics().RejectedCount; got != 100-capacity {
		t.Fatalf("rejected = %d, want %d", got, 100-capacity)
	}
}
