package procpool

import "sync"

// submissionQueue is a FIFO of queued jobs with a timeout-capable wait,
// built on a broadcast channel rather than sync.Cond so a caller can select
// on wait() alongside a timer without a wakeup goroutine per waiter.
type submissionQueue struct {
	mu     sync.Mutex
	items  []*job
	waitCh chan struct{}
	closed bool
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{waitCh: make(chan struct{})}
}

// enqueue appends j and wakes any waiters. Returns false if the queue has
// been closed for shutdown, in which case j was not enqueued.
func (q *submissionQueue) enqueue(j *job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, j)
	q.broadcastLocked()
	q.mu.Unlock()
	return true
}

// take removes and returns the head job, if any, without blocking.
func (q *submissionQueue) take() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

func (q *submissionQueue) takeLocked() (*job, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return j, true
}

// wait returns a channel that is closed on the next enqueue, requeueFront,
// drain, or closeForShutdown (take and remove do not close it). It does not
// itself take anything.
func (q *submissionQueue) wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitCh
}

func (q *submissionQueue) broadcastLocked() {
	close(q.waitCh)
	q.waitCh = make(chan struct{})
}

// remove deletes j from the queue if it is still waiting there (it may
// already have been taken by the dispatcher), for Cancel to pull a
// queued-but-not-yet-dispatched job out without waiting for the dispatcher
// to reach it.
func (q *submissionQueue) remove(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.items {
		if cur == j {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// requeueFront puts j back at the head of the queue. Used by the dispatcher
// when the executor it chose for j died or began stopping in the window
// between being picked and the handoff completing, so j is retried against
// a different executor instead of being lost.
func (q *submissionQueue) requeueFront(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*job{j}, q.items...)
	q.broadcastLocked()
}

func (q *submissionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain removes and returns every queued job, for ForceShutdown.
func (q *submissionQueue) drain() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.broadcastLocked()
	return items
}

// closeForShutdown marks the queue closed: further enqueue calls fail.
// Already-queued jobs are left in place for the dispatcher (or ForceShutdown)
// to finish handling.
func (q *submissionQueue) closeForShutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *submissionQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
