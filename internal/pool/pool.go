// Package pool provides the fixed-size worker pool that executes fingerprint
// tasks. Workers cooperatively consume from one bounded FIFO queue guarded by
// a mutex and condition variables; Wait is the completion barrier.
package pool

import (
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of work. Tasks capture their own context; the pool never
// inspects them. A returned error is logged and counted but does not halt
// the pool.
type Task func() error

// Pool is a fixed set of workers draining a bounded FIFO queue.
type Pool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	quiet    *sync.Cond

	queue    []Task
	capacity int
	busy     int
	draining bool
	failures int

	wg  sync.WaitGroup
	log zerolog.Logger
}

// New starts numWorkers workers. The queue is bounded at four tasks per
// worker; Add blocks while it is full.
func New(numWorkers int, log zerolog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &Pool{
		capacity: numWorkers * 4,
		log:      log,
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	p.quiet = sync.NewCond(&p.mu)

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.draining {
			p.notEmpty.Wait()
		}
		if len(p.queue) == 0 {
			// Draining and nothing left.
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.busy++
		p.notFull.Signal()
		p.mu.Unlock()

		err := task()

		p.mu.Lock()
		p.busy--
		if err != nil {
			p.failures++
			p.log.Warn().Err(err).Msg("task failed")
		}
		if p.draining && len(p.queue) == 0 && p.busy == 0 {
			p.quiet.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Add appends a task, blocking while the queue is full. Tasks dispatch in
// FIFO order. Adding after Wait has begun is a programming error and the
// task is dropped.
func (p *Pool) Add(task Task) {
	p.mu.Lock()
	for len(p.queue) >= p.capacity && !p.draining {
		p.notFull.Wait()
	}
	if p.draining {
		p.mu.Unlock()
		p.log.Error().Msg("task added to draining pool, dropped")
		return
	}
	p.queue = append(p.queue, task)
	p.notEmpty.Signal()
	p.mu.Unlock()
}

// Wait flips the pool into drain mode and blocks until the queue is empty
// and every worker is idle. It returns the number of failed tasks.
func (p *Pool) Wait() int {
	p.mu.Lock()
	p.draining = true
	p.notEmpty.Broadcast()
	for len(p.queue) > 0 || p.busy > 0 {
		p.quiet.Wait()
	}
	failures := p.failures
	p.mu.Unlock()

	p.wg.Wait()
	return failures
}
