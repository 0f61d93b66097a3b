package eventbus

import (
	"context"
	"sync"
)

// Queue is a task queue drained by a single owning goroutine. It is the
// marshalling half of goroutine-affine subscriptions: Publish posts callback
// invocations here from arbitrary goroutines, and the owning loop runs them
// via Drain or Run.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Post enqueues a task. Never blocks.
func (q *Queue) Post(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain runs every task queued at the time of the call, on the caller's
// goroutine, and returns how many ran. Tasks posted while draining wait for
// the next Drain.
func (q *Queue) Drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// Run drains the queue whenever tasks arrive, until ctx is cancelled. It is
// intended as the body of an owning loop that exists only to service the
// queue; loops with their own work should call Drain from their tick instead.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return
		case <-q.notify:
			q.Drain()
		}
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
