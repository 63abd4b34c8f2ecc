package utils

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore bounding in-flight work.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a Semaphore with n slots (at least one).
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (s *Semaphore) Release() {
	<-s.slots
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// WorkerPool runs submitted jobs on at most maxWorkers goroutines.
type WorkerPool struct {
	sem *Semaphore
	wg  sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	return &WorkerPool{sem: NewSemaphore(maxWorkers)}
}

// Submit blocks until a worker is free, then runs job in its own goroutine.
// It returns false without running job when ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) bool {
	if err := wp.sem.Acquire(ctx); err != nil {
		return false
	}
	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()
		defer wp.sem.Release()
		job()
	}()
	return true
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// IDSet is a thread-safe set for tracking seen listing identifiers.
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the id was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Contains returns true if the id has already been seen.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[id]
	return exists
}

// Size returns the number of unique ids tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
