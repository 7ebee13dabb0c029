// Package rwlock implements a writer-preferring many-reader/single-writer
// lock with scoped guards: Lock and RLock hand out a guard whose Unlock
// releases the lock on every exit path, so there is no API that lets a
// caller forget to release.
//
// Go's sync.RWMutex makes no writer-preference guarantee — a steady
// stream of readers can starve a writer indefinitely. The engine façade
// needs writer preference so that index rebuilds (build) are never
// starved by concurrent searches, so this package wraps a small
// condition-variable monitor instead of sync.RWMutex directly.
package rwlock

import "sync"

// RWLock is a writer-preferring reader/writer lock.
type RWLock struct {
	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writerActive   bool
	writersWaiting int
}

// New creates a ready-to-use lock.
func New() *RWLock {
	l := &RWLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// ReadGuard releases a shared acquisition when Unlock is called.
type ReadGuard struct {
	l *RWLock
}

// WriteGuard releases an exclusive acquisition when Unlock is called.
type WriteGuard struct {
	l *RWLock
}

// RLock blocks until no writer holds the lock and no writer is waiting,
// then enters as a reader.
func (l *RWLock) RLock() *ReadGuard {
	l.mu.Lock()
	for l.writerActive || l.writersWaiting > 0 {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
	return &ReadGuard{l: l}
}

// Unlock releases this reader's hold on the lock.
func (g *ReadGuard) Unlock() {
	l := g.l
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Lock blocks until no readers and no writer are active, then enters
// alone. Registers as a waiting writer immediately, so that any reader
// arriving after this call blocks behind it (writer preference).
func (l *RWLock) Lock() *WriteGuard {
	l.mu.Lock()
	l.writersWaiting++
	for l.writerActive || l.readers > 0 {
		l.cond.Wait()
	}
	l.writersWaiting--
	l.writerActive = true
	l.mu.Unlock()
	return &WriteGuard{l: l}
}

// Unlock releases the exclusive hold on the lock.
func (g *WriteGuard) Unlock() {
	l := g.l
	l.mu.Lock()
	l.writerActive = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
