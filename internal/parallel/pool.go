// Package parallel runs data-parallel kernel work on a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a pool of goroutines executing index ranges of a kernel launch.
//
// A launch of n invocations is split into contiguous chunks, at most a few
// per worker, which are queued on a shared channel. Workers pull chunks until
// the launch completes. Callers block until every invocation has run.
//
// Thread safety: Pool is safe for concurrent use. Launches from different
// goroutines interleave their chunks on the same workers.
type Pool struct {
	// workers is the number of worker goroutines.
	workers int

	// chunks carries queued work to the workers.
	chunks chan chunk

	// mu orders sends on chunks against Close.
	mu sync.RWMutex

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

type chunk struct {
	fn     func(i int)
	lo, hi int
	done   *sync.WaitGroup
}

// chunksPerWorker balances uneven chunk costs without flooding the queue.
const chunksPerWorker = 4

// NewPool creates a pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		workers: workers,
		chunks:  make(chan chunk, workers*chunksPerWorker),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for c := range p.chunks {
		for i := c.lo; i < c.hi; i++ {
			c.fn(i)
		}
		c.done.Done()
	}
}

// For calls fn(i) for every i in [0, n) and waits for all calls to return.
// Calls for different i may run concurrently and in any order.
// After Close, For runs every call on the calling goroutine.
func (p *Pool) For(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	p.mu.RLock()
	if !p.running.Load() || n == 1 || p.workers == 1 {
		p.mu.RUnlock()
		for i := range n {
			fn(i)
		}
		return
	}

	parts := min(n, p.workers*chunksPerWorker)
	size := (n + parts - 1) / parts

	var done sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		done.Add(1)
		p.chunks <- chunk{fn: fn, lo: lo, hi: min(lo+size, n), done: &done}
	}
	p.mu.RUnlock()

	done.Wait()
}

// ExecuteAll runs every function in work and waits for all to complete.
func (p *Pool) ExecuteAll(work []func()) {
	p.For(len(work), func(i int) {
		if work[i] != nil {
			work[i]()
		}
	})
}

// Close stops the workers after queued chunks have run.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.chunks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
