package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMultipleReadersConcurrent(t *testing.T) {
	l := New()

	g1 := l.RLock()
	defer g1.Unlock()

	done := make(chan struct{})
	go func() {
		g2 := l.RLock()
		defer g2.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind first reader")
	}
}

func TestWriterExcludesReaders(t *testing.T) {
	l := New()
	wg := l.Lock()

	acquired := make(chan struct{})
	go func() {
		rg := l.RLock()
		rg.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(50 * time.Millisecond):
	}

	wg.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
}

func TestWriterPreference(t *testing.T) {
	l := New()

	// Hold one reader so a writer has to wait.
	r0 := l.RLock()

	writerDone := make(chan struct{})
	go func() {
		wg := l.Lock()
		wg.Unlock()
		close(writerDone)
	}()

	// Give the writer time to register as waiting.
	time.Sleep(20 * time.Millisecond)

	var lateReaderAcquired int32
	readerDone := make(chan struct{})
	go func() {
		rg := l.RLock()
		atomic.StoreInt32(&lateReaderAcquired, 1)
		rg.Unlock()
		close(readerDone)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&lateReaderAcquired) != 0 {
		t.Fatal("reader arriving after a waiting writer should be blocked behind it")
	}

	r0.Unlock()

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired lock")
	}
	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer finished")
	}
}

func TestExclusiveMutualExclusion(t *testing.T) {
	l := New()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := l.Lock()
			defer g.Unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50 (exclusive access violated)", counter)
	}
}
