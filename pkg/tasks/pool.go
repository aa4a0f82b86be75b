package tasks

import (
	"fmt"
	"math"
	"sync"

	"github.com/dd0wney/telecom-txcore/pkg/logging"
)

// Pool manages a pool of worker goroutines for background recovery and
// monitoring work. Coordinator threads submit and return; they never block
// on task completion.
type Pool struct {
	workers   int
	taskQueue chan func()
	logger    logging.Logger
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // Protects taskQueue from concurrent close during send
	closed    bool         // Protected by mu
}

// ErrTooManyWorkers is returned when the worker count exceeds the maximum allowed.
var ErrTooManyWorkers = fmt.Errorf("worker count exceeds maximum")

// MaxWorkers is the maximum number of workers allowed in a pool.
const MaxWorkers = math.MaxInt / 2

// NewPool creates a worker pool with the specified number of workers.
// Returns an error if the worker count exceeds MaxWorkers.
func NewPool(workers int, logger logging.Logger) (*Pool, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	pool := &Pool{
		workers:   workers,
		taskQueue: make(chan func(), workers*2),
		logger:    logger.With(logging.Component("tasks")),
	}

	pool.start()
	return pool, nil
}

func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker processes tasks from the queue
func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		// Recover from panics in tasks to prevent worker crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("task panic recovered", logging.Any("panic", fmt.Sprint(r)))
				}
			}()
			task()
		}()
	}
}

// Submit adds a task to the pool.
// Returns false if the pool is closed, true if the task was submitted.
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	p.taskQueue <- task
	return true
}

// Close shuts down the pool and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.taskQueue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
