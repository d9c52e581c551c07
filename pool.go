package procpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edirooss/procpool/internal/idalloc"
	"github.com/edirooss/procpool/internal/keepalive"
	"github.com/edirooss/procpool/internal/plog"
	"github.com/edirooss/procpool/internal/ringlog"
)

// Pool maintains a dynamically sized fleet of ProcessExecutors and dispatches
// queued submissions to them in order. The dispatcher is the pool's single
// logical actor: assignment and sizing decisions are made only by
// dispatchLoop, and every change to the executor sets happens under
// dispatchMu, so they are as-if single-threaded even though executors
// themselves run concurrently.
type Pool struct {
	cfg PoolConfig
	log plog.Sink

	ids  *idalloc.Allocator
	ring *ringlog.Manager
	ka   *keepalive.Scheduler

	queue *submissionQueue

	growSF singleflight.Group

	dispatchMu sync.Mutex
	executors  map[int64]*processExecutor // all live executors, by generation id
	idle       map[int64]*processExecutor // subset currently idle
	wakeCh     chan struct{}

	shutdown   atomic.Bool
	terminated chan struct{}
	termOnce   sync.Once
}

// NewPool constructs a pool per cfg and blocks until Min executors are idle,
// or until the first startup failure.
func NewPool(cfg PoolConfig) (*Pool, error) {
	return NewPoolContext(context.Background(), cfg)
}

// NewPoolContext is NewPool with a cancellable context: cancelling ctx during
// initial population aborts construction and tears down any executors
// already spawned, returning ErrInterrupted.
func NewPoolContext(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if cfg.Verbose && logger == nil {
		l, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	p := &Pool{
		cfg:        cfg,
		log:        plog.FromZap(logger, cfg.Verbose).Named("procpool"),
		ids:        idalloc.New(1 << 30),
		ring:       ringlog.NewManager(),
		ka:         keepalive.New(),
		queue:      newSubmissionQueue(),
		executors:  make(map[int64]*processExecutor),
		idle:       make(map[int64]*processExecutor),
		wakeCh:     make(chan struct{}, 1),
		terminated: make(chan struct{}),
	}

	if err := p.populate(ctx, cfg.Min); err != nil {
		p.teardownAll()
		return nil, err
	}

	go p.dispatchLoop()
	go p.keepAliveLoop()

	return p, nil
}

// populate spawns n executors concurrently and blocks until all are idle or
// the first one fails. Uses errgroup so the first error cancels the shared
// context and the others abort their startup promptly.
func (p *Pool) populate(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := p.spawn(gctx)
			return err
		})
	}
	return g.Wait()
}

// spawn allocates a generation id, constructs a ProcessManager via the
// configured factory, and starts a new executor.
func (p *Pool) spawn(ctx context.Context) (*processExecutor, error) {
	mgr, err := p.cfg.ManagerFactory()
	if err != nil {
		return nil, &StartupFailedError{Err: err}
	}
	genID := p.ids.Alloc()
	e := newProcessExecutor(p, genID, mgr, p.log, p.ring)
	if err := e.start(ctx, p.cfg.StartupGrace); err != nil {
		p.ids.Release(genID)
		return nil, err
	}

	p.dispatchMu.Lock()
	p.executors[genID] = e
	p.dispatchMu.Unlock()

	return e, nil
}

func (p *Pool) teardownAll() {
	p.dispatchMu.Lock()
	executors := make([]*processExecutor, 0, len(p.executors))
	for _, e := range p.executors {
		executors = append(executors, e)
	}
	p.dispatchMu.Unlock()
	for _, e := range executors {
		e.destroy()
	}
}

// onExecutorIdle registers e as idle and wakes the dispatcher, and
// (re)schedules its keep-alive expiry.
func (p *Pool) onExecutorIdle(e *processExecutor) {
	p.dispatchMu.Lock()
	p.idle[e.genID] = e
	if p.cfg.KeepAlive > 0 {
		p.ka.Push(e.genID, time.Now().Add(p.cfg.KeepAlive))
	}
	p.dispatchMu.Unlock()
	p.wake()
}

// onExecutorDied removes e from the live set entirely (it is never idle and
// never busy again) and triggers a replacement if the pool still needs one.
func (p *Pool) onExecutorDied(e *processExecutor) {
	p.onExecutorRetired(e)
	p.wake()
}

// onExecutorRetired removes e from every pool-side bookkeeping structure
// (the live set, the idle set, its keep-alive schedule, its generation id,
// its ring buffer). Called both when an executor dies unexpectedly and when
// it completes an orderly, requested stop.
func (p *Pool) onExecutorRetired(e *processExecutor) {
	p.dispatchMu.Lock()
	delete(p.executors, e.genID)
	delete(p.idle, e.genID)
	p.ka.Remove(e.genID)
	p.dispatchMu.Unlock()
	p.ids.Release(e.genID)
	p.ring.Forget(e.genID)
}

func (p *Pool) wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// enqueue is called by Submit to add j to the queue, rejecting it outright
// if the pool is shutting down.
func (p *Pool) enqueue(j *job) error {
	if p.shutdown.Load() {
		return ErrRejectedExecution
	}
	if !p.queue.enqueue(j) {
		return ErrRejectedExecution
	}
	p.wake()
	return nil
}

// dispatchLoop is the pool's single logical dispatcher actor: it wakes on
// any state change (enqueue, executor idle/died, keep-alive tick) and runs
// dispatch under dispatchMu to decide assignments and sizing in one atomic
// step.
func (p *Pool) dispatchLoop() {
	for {
		select {
		case <-p.wakeCh:
		case <-time.After(time.Second):
			// periodic tick: catches keep-alive expiries even with no
			// other activity
		case <-p.terminated:
			return
		}
		p.dispatch()
	}
}

// dispatch is the pool's single critical section: assign queued jobs to
// idle executors, retire expired-idle executors down to min/reserve, and
// grow toward reserve/min when capacity allows. Called only from
// dispatchLoop, so it never runs concurrently with itself.
func (p *Pool) dispatch() {
	p.dispatchMu.Lock()

	// 1. Assign queued work to idle executors, FIFO.
	for len(p.idle) > 0 {
		j, ok := p.queue.take()
		if !ok {
			break
		}
		var chosen *processExecutor
		var chosenID int64
		for id, e := range p.idle {
			chosen, chosenID = e, id
			break
		}
		delete(p.idle, chosenID)
		p.ka.Remove(chosenID)
		p.dispatchMu.Unlock()

		// chosen may have died, or started stopping, in the window between
		// being picked above and this send: guard the handoff so the
		// dispatcher can never block forever on an executor that will
		// never receive.
		select {
		case chosen.assign <- j:
		case <-chosen.exited:
			p.queue.requeueFront(j)
		case <-chosen.stopCh:
			p.queue.requeueFront(j)
		}
		p.dispatchMu.Lock()
	}

	// 2. Retire idle executors past their keep-alive deadline, so long as
	// doing so keeps the pool at or above min and leaves at least reserve
	// executors idle. An executor asked to stop stays in p.executors until
	// its stop completes, so retiring counts the ones asked here.
	if p.cfg.KeepAlive > 0 {
		now := time.Now()
		retiring := 0
		for {
			id, when, ok := p.ka.Next()
			if !ok || when.After(now) {
				break
			}
			if len(p.executors)-retiring <= p.cfg.Min || len(p.idle) <= p.cfg.Reserve {
				break
			}
			e, ok := p.idle[id]
			if !ok {
				p.ka.Remove(id)
				continue
			}
			delete(p.idle, id)
			p.ka.Remove(id)
			retiring++
			p.dispatchMu.Unlock()
			e.requestStop()
			p.dispatchMu.Lock()
		}
	}

	active := len(p.executors)
	need := 0
	if active < p.cfg.Min {
		need = p.cfg.Min - active
	}
	idleWanted := p.cfg.Reserve
	if avail := p.cfg.Max - active; avail < idleWanted {
		idleWanted = avail
	}
	if idleWanted > 0 && len(p.idle) < idleWanted {
		more := idleWanted - len(p.idle)
		if more > need {
			need = more
		}
	}
	p.dispatchMu.Unlock()

	if need > 0 && !p.shutdown.Load() {
		p.growOnce(need)
	}
}

// growOnce spawns up to n new executors, coalescing concurrent callers
// through singleflight under one shared key (whatever n each asked for) to
// avoid redundant concurrent work.
func (p *Pool) growOnce(n int) {
	key := "grow"
	_, _, _ = p.growSF.Do(key, func() (any, error) {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			if p.numExecutorsLocked() >= p.cfg.Max {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := p.spawn(context.Background())
				if err != nil {
					p.log.Warn("background spawn failed", zap.Error(err))
					return
				}
				_ = e
			}()
		}
		wg.Wait()
		return nil, nil
	})
}

func (p *Pool) numExecutorsLocked() int {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	return len(p.executors)
}

// keepAliveLoop exists only to keep dispatch ticking even when wakeCh is
// otherwise quiet; dispatchLoop's own time.After already covers this, so
// this loop is reserved for future finer-grained keep-alive precision and
// currently just wakes the dispatcher at the same cadence.
func (p *Pool) keepAliveLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.wake()
		case <-p.terminated:
			return
		}
	}
}

// Shutdown begins an orderly, cooperative shutdown: no new submissions are
// accepted, queued submissions continue to be dispatched and run to
// completion, and executors retire once their current work (if any) is
// done. It returns immediately; use AwaitTermination to block until
// complete.
func (p *Pool) Shutdown() {
	if p.shutdown.Load() {
		return
	}
	p.shutdown.Store(true)
	p.queue.closeForShutdown()
	go p.drainAndRetire()
}

func (p *Pool) drainAndRetire() {
	for {
		p.dispatchMu.Lock()
		remaining := p.queue.len()
		p.dispatchMu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	p.dispatchMu.Lock()
	executors := make([]*processExecutor, 0, len(p.executors))
	for _, e := range p.executors {
		executors = append(executors, e)
	}
	p.dispatchMu.Unlock()
	for _, e := range executors {
		e.requestStop()
	}
	p.awaitAllStopped()
	p.termOnce.Do(func() { close(p.terminated) })
}

func (p *Pool) awaitAllStopped() {
	for {
		p.dispatchMu.Lock()
		n := len(p.executors)
		p.dispatchMu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// ForceShutdown immediately destroys every executor, fails every queued
// submission with ErrCancelled and returns those queued submissions. An
// in-flight submission is not in the returned list; it fails with a
// SubmissionFailedError once its process is destroyed. ForceShutdown does
// not wait for processes to exit; the pool becomes terminated once every
// executor has stopped.
func (p *Pool) ForceShutdown() []CancelledSubmission {
	p.shutdown.Store(true)
	p.queue.closeForShutdown()

	var cancelled []CancelledSubmission

	for _, j := range p.queue.drain() {
		j.finish(nil, ErrCancelled)
		cancelled = append(cancelled, CancelledSubmission{ID: j.id})
	}

	p.dispatchMu.Lock()
	executors := make([]*processExecutor, 0, len(p.executors))
	for _, e := range p.executors {
		executors = append(executors, e)
	}
	p.dispatchMu.Unlock()

	for _, e := range executors {
		e.destroy()
	}

	go func() {
		p.awaitAllStopped()
		p.termOnce.Do(func() { close(p.terminated) })
	}()
	return cancelled
}

// IsShutdown reports whether Shutdown or ForceShutdown has been called.
func (p *Pool) IsShutdown() bool { return p.shutdown.Load() }

// IsTerminated reports whether every executor has fully stopped following a
// shutdown.
func (p *Pool) IsTerminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

// AwaitTermination blocks until IsTerminated would return true, ctx is
// cancelled (returning ErrInterrupted), or timeout elapses (returning
// ErrTimeout). timeout <= 0 means no timeout.
func (p *Pool) AwaitTermination(ctx context.Context, timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	case <-timeoutCh:
		return ErrTimeout
	}
}

// NumProcesses returns the number of currently live executors.
func (p *Pool) NumProcesses() int {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	return len(p.executors)
}

// NumQueuedSubmissions returns the number of submissions waiting for an
// executor.
func (p *Pool) NumQueuedSubmissions() int { return p.queue.len() }

// NumExecutingSubmissions returns the number of executors currently busy
// running a submission.
func (p *Pool) NumExecutingSubmissions() int {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	return len(p.executors) - len(p.idle)
}

// RecentOutput returns the most recent n diagnostic output lines observed
// from the executor identified by generationID (newest first), or nil if no
// such executor is known (it may never have existed, or may have been
// retired: an executor's ring buffer is dropped when it retires).
func (p *Pool) RecentOutput(generationID int64, n int) []string {
	return p.ring.Read(generationID, n)
}

// ExecutorIdleSince reports when the executor identified by generationID
// last returned to idle, for diagnosing which live executors are closest to
// their keep-alive deadline. ok is false if no live executor has that id.
func (p *Pool) ExecutorIdleSince(generationID int64) (when time.Time, ok bool) {
	p.dispatchMu.Lock()
	e, ok := p.executors[generationID]
	p.dispatchMu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return e.idleSince(), true
}
