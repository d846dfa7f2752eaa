package barrier

import (
	"testing"
	"time"
)

func TestWaitForBackgroundGCBlocksUntilNotified(t *testing.T) {
	b := New()
	b.StartGC()

	done := make(chan struct{})
	go func() {
		b.WaitForBackgroundGC()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected WaitForBackgroundGC to block while gc is in progress")
	case <-time.After(20 * time.Millisecond):
	}

	b.NotifyGCFinished()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected WaitForBackgroundGC to unblock after NotifyGCFinished")
	}
}

func TestWaitForCompactionBlocksUntilNotified(t *testing.T) {
	b := New()
	b.StartCompaction()

	done := make(chan struct{})
	go func() {
		b.WaitForCompaction()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected WaitForCompaction to block while compaction is in progress")
	case <-time.After(20 * time.Millisecond):
	}

	b.NotifyCompactionFinished()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected WaitForCompaction to unblock after NotifyCompactionFinished")
	}
}

func TestUnstartedBarrierDoesNotBlock(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		b.WaitForBackgroundGC()
		b.WaitForCompaction()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an idle barrier to never block")
	}
}
