// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, chowyu08, muXxer

package stomp

import (
	"sync"

	xh "github.com/cespare/xxhash/v2"
)

// task is a unit of frame processing work.
type task func()

// FanPool is the worker pool used by the reactor mode. Each column of the fan is
// a queue drained by one goroutine, and a connection always hashes to the same
// column, so the frames of a connection are processed in the order they arrived.
type FanPool struct {
	mu      sync.RWMutex
	columns []chan task
	wg      sync.WaitGroup
	perChan int
}

// NewFanPool returns a pool with fanSize columns, each queueing up to queueSize tasks.
func NewFanPool(fanSize, queueSize int) *FanPool {
	if fanSize < 1 {
		fanSize = 1
	}

	pool := &FanPool{
		columns: make([]chan task, fanSize),
		perChan: queueSize,
	}

	for i := range pool.columns {
		pool.columns[i] = make(chan task, queueSize)
		pool.wg.Add(1)
		go pool.worker(pool.columns[i])
	}

	return pool
}

// worker runs the tasks of one column until it is closed.
func (p *FanPool) worker(ch chan task) {
	defer p.wg.Done()
	for fn := range ch {
		fn()
	}
}

// column returns the column index for a key.
func (p *FanPool) column(key string) int {
	return int(xh.Sum64String(key) % uint64(len(p.columns)))
}

// Enqueue queues a task on the column owned by key, blocking while the column is full.
// It returns false if the pool is closed.
func (p *FanPool) Enqueue(key string, fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.columns) == 0 {
		return false
	}

	p.columns[p.column(key)] <- fn
	return true
}

// Size returns the number of columns.
func (p *FanPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.columns)
}

// Close stops accepting tasks and lets the workers drain their queues.
func (p *FanPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.columns {
		close(ch)
	}
	p.columns = nil
}

// Wait blocks until every worker has exited.
func (p *FanPool) Wait() {
	p.wg.Wait()
}
