// Package worker runs user callbacks off the connection thread.
package worker

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Task is a unit of work.
type Task func()

// Pool is a fixed-size worker pool over a bounded queue. Submit never blocks:
// when the queue is full the task is dropped. Keep never blocks either: it
// spills to an unbounded backlog fed back into the queue in order.
type Pool struct {
	name string
	jobs chan Task
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	backlog  []Task
	draining bool
	drainWG  sync.WaitGroup
}

// New creates a pool. Size defaults to NumCPU when size<=0 and the queue to
// 64 slots when queue<=0.
func New(name string, size, queue int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queue <= 0 {
		queue = 64
	}
	p := &Pool{name: name, jobs: make(chan Task, queue)}
	p.start(size)
	return p
}

// NewOrdered creates a single-worker pool: tasks run one at a time in
// submission order.
func NewOrdered(name string, queue int) *Pool {
	return New(name, 1, queue)
}

func (p *Pool) start(n int) {
	for range n {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.jobs {
				p.run(task)
			}
		}()
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("worker").Error().
				Str("pool", p.name).
				Str("panic", fmt.Sprint(r)).
				Msg("Recovered panic in callback")
		}
	}()
	task()
}

// Submit enqueues task if there is room. Returns false if dropped or the
// pool is closed. A pool with a backlog counts as full.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if !p.draining {
		select {
		case p.jobs <- task:
			return true
		default:
		}
	}
	logger.WithComponent("worker").Warn().Str("pool", p.name).Msg("Queue full, dropping callback")
	return false
}

// Keep enqueues task without dropping it. When the queue is full the task
// waits in the backlog; submission order is preserved. Returns false only
// when the pool is closed.
func (p *Pool) Keep(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if !p.draining {
		select {
		case p.jobs <- task:
			return true
		default:
		}
		p.draining = true
		p.drainWG.Add(1)
		go p.drain()
		logger.WithComponent("worker").Debug().Str("pool", p.name).Msg("Queue full, spilling to backlog")
	}
	p.backlog = append(p.backlog, task)
	return true
}

// drain feeds the backlog into the queue. draining stays set until the
// backlog is empty so direct sends cannot overtake it.
func (p *Pool) drain() {
	defer p.drainWG.Done()
	for {
		p.mu.Lock()
		if len(p.backlog) == 0 {
			p.draining = false
			p.backlog = nil
			p.mu.Unlock()
			return
		}
		task := p.backlog[0]
		p.backlog = p.backlog[1:]
		p.mu.Unlock()
		p.jobs <- task
	}
}

// Backlog returns the number of tasks waiting for room in the queue.
func (p *Pool) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Close stops the pool after draining queued work and the backlog.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.drainWG.Wait()
	close(p.jobs)
	p.wg.Wait()
}
