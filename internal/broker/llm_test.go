package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestLLMSemaphoreCapsConcurrency verifies acquireLLMSlot never admits more
// than the configured number of simultaneous holders.
func TestLLMSemaphoreCapsConcurrency(t *testing.T) {
	b := New(nil, 2)

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := b.acquireLLMSlot(ctx, false); err != nil {
				return
			}
			defer func() { <-b.llmSlots }()

			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive > 2 {
		t.Fatalf("max concurrent holders = %d, want <= 2", maxActive)
	}
}

func TestOperatorCallSignalsPreemptWhenFull(t *testing.T) {
	b := New(nil, 1)

	ctx := context.Background()
	if err := b.acquireLLMSlot(ctx, false); err != nil {
		t.Fatal(err)
	}
	defer func() { <-b.llmSlots }()

	// The single slot is held; an operator call should post to preempt
	// rather than silently waiting forever.
	go func() {
		opCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		b.acquireLLMSlot(opCtx, true)
	}()

	select {
	case <-b.PreemptRequested():
	case <-time.After(time.Second):
		t.Fatal("expected a preempt signal while the semaphore was full")
	}
}
