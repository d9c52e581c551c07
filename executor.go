package procpool

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/procpool/internal/plog"
	"github.com/edirooss/procpool/internal/ringlog"
)

// executorState is the lifecycle of one processExecutor. Transitions are
// one-directional except idle<->busy, which cycle for the executor's whole
// working life; starting is left once, and stopping and stopped are
// absorbing.
type executorState int32

const (
	stateStarting executorState = iota
	stateIdle
	stateBusy
	stateStopping
	stateStopped
)

// processExecutor owns exactly one external process for its entire life:
// spawn, optional startup detection, any number of submissions run one at a
// time, and eventual termination. It is the pool's unit of concurrency —
// one goroutine (run) drives it start to finish.
type processExecutor struct {
	genID int64 // allocated from the pool's idalloc.Allocator

	pool    *Pool
	manager ProcessManager
	log     plog.Sink
	ring    *ringlog.Manager

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	state atomic.Int32

	// lines merges stdout/stderr events from the two stream-reader
	// goroutines into a single sequence for run's select loop.
	lines chan lineEvent

	// exited is closed once cmd.Wait has returned.
	exited   chan struct{}
	waitErr  error
	waitOnce sync.Once

	// assign delivers one job to run for execution; the dispatcher only
	// sends here when the executor is idle, so the channel is unbuffered
	// and acts as a rendezvous.
	assign chan *job

	// readersWG tracks the two stream-reader goroutines, so the executor
	// can join them before declaring itself stopped.
	readersWG sync.WaitGroup

	// lastActive is updated every time the executor returns to idle, for
	// the pool's keep-alive scheduling.
	lastActive atomic.Int64 // unix nanos

	stopOnce sync.Once
	stopCh   chan struct{} // closed to request graceful stop
}

func newProcessExecutor(pool *Pool, genID int64, manager ProcessManager, log plog.Sink, ring *ringlog.Manager) *processExecutor {
	e := &processExecutor{
		genID:   genID,
		pool:    pool,
		manager: manager,
		log:     log,
		ring:    ring,
		lines:   make(chan lineEvent, 16),
		exited:  make(chan struct{}),
		assign:  make(chan *job),
		stopCh:  make(chan struct{}),
	}
	e.state.Store(int32(stateStarting))
	return e
}

func (e *processExecutor) getState() executorState { return executorState(e.state.Load()) }
func (e *processExecutor) setState(s executorState) { e.state.Store(int32(s)) }

// start spawns the process and blocks until it is idle or has failed to
// start, bounded by startupGrace. It then launches run in its own goroutine
// to drive the executor for the rest of its life.
func (e *processExecutor) start(ctx context.Context, startupGrace time.Duration) error {
	spec, err := e.manager.NewProcess()
	if err != nil {
		return &StartupFailedError{Err: err}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	setProcAttr(cmd)
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartupFailedError{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartupFailedError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartupFailedError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &StartupFailedError{Err: err}
	}

	e.cmd, e.stdin, e.stdout, e.stderr = cmd, stdin, stdout, stderr
	e.log.Info("process started", zap.Int64("generation_id", e.genID), zap.Int("pid", cmd.Process.Pid))

	e.readersWG.Add(2)
	go func() { defer e.readersWG.Done(); runStreamReader(stdout, true, e.lines) }()
	go func() { defer e.readersWG.Done(); runStreamReader(stderr, false, e.lines) }()
	go e.reap()

	readyCh := make(chan error, 1)
	go func() { readyCh <- e.awaitStartup() }()

	select {
	case err := <-readyCh:
		if err != nil {
			e.destroy()
			return &StartupFailedError{Err: err}
		}
	case <-e.exited:
		e.waitOnce.Do(func() {})
		return &StartupFailedError{Err: e.waitErr}
	case <-time.After(startupGrace):
		e.destroy()
		return &StartupFailedError{Err: ErrTimeout}
	case <-ctx.Done():
		e.destroy()
		return &StartupFailedError{Err: ErrInterrupted}
	}

	e.markIdle()
	go e.run()
	return nil
}

// awaitStartup consumes output lines until IsStartedUp fires (unless the
// manager reports instant startup), then runs the manager's OnStartup hook
// through a Shell scoped to this executor.
func (e *processExecutor) awaitStartup() error {
	if !e.manager.StartsUpInstantly() {
		for {
			select {
			case ev, ok := <-e.lines:
				if !ok {
					return ErrInterrupted
				}
				e.ring.Append(e.genID, ev.line)
				if e.manager.IsStartedUp(ev.line, ev.isStdout) {
					goto started
				}
			case <-e.exited:
				return ErrInterrupted
			}
		}
	}
started:
	return e.manager.OnStartup(execShell{e})
}

func (e *processExecutor) reap() {
	err := e.cmd.Wait()
	e.waitOnce.Do(func() {
		e.waitErr = err
		close(e.exited)
	})
}

// run is the executor's main loop for its entire idle/busy working life. It
// is the sole goroutine that reads e.lines outside of awaitStartup, and the
// sole writer to e.stdin outside of awaitStartup/Terminate.
func (e *processExecutor) run() {
	for {
		select {
		case j := <-e.assign:
			e.setState(stateBusy)
			e.execute(j)
			if e.stopRequested() || j.retireHostAfter() {
				e.setState(stateStopping)
				e.finishStop()
				return
			}
			e.markIdle()

		case <-e.exited:
			e.readersWG.Wait()
			e.setState(stateStopped)
			e.pool.onExecutorDied(e)
			return

		case <-e.stopCh:
			e.setState(stateStopping)
			e.finishStop()
			return
		}
	}
}

func (e *processExecutor) markIdle() {
	e.setState(stateIdle)
	e.lastActive.Store(time.Now().UnixNano())
	e.pool.onExecutorIdle(e)
}

// execute runs every command in j in order, writing each instruction and
// consuming lines until that command's predicates resolve it, then calls
// j.run to compute the result. The job is always left in a terminal state
// (finish is called exactly once) before execute returns.
func (e *processExecutor) execute(j *job) {
	j.markStarted()

	for _, cmd := range j.commands {
		if j.cooperativelyCancelled() {
			j.finish(nil, ErrCancelled)
			if j.forced {
				e.destroy()
			}
			return
		}

		var deadline <-chan time.Time
		if cmd.Deadline > 0 {
			t := time.NewTimer(cmd.Deadline)
			defer t.Stop()
			deadline = t.C
		}

		if _, err := io.WriteString(e.stdin, cmd.Instruction+"\n"); err != nil {
			j.finish(nil, &SubmissionFailedError{Cause: CauseWriteFailed, Err: err})
			e.destroy()
			return
		}

		if err := e.runCommand(cmd, j, deadline); err != nil {
			j.finish(nil, err)
			if !isCancelErr(err) {
				e.destroy()
			} else if j.forced {
				e.destroy()
			}
			return
		}
	}

	result, err := e.safeRun(j)
	j.finish(result, err)
}

func (e *processExecutor) runCommand(cmd *Command, j *job, deadline <-chan time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SubmissionFailedError{Cause: CauseCallbackPanic}
		}
	}()
	for {
		select {
		case ev, ok := <-e.lines:
			if !ok {
				return &SubmissionFailedError{Cause: CauseProcessDied}
			}
			e.ring.Append(e.genID, ev.line)
			cmd.appendLine(ev.line, ev.isStdout)

			if cmd.IsErrorTermination != nil && cmd.IsErrorTermination(ev.line, ev.isStdout) {
				return &SubmissionFailedError{Cause: CauseCommandErrorTermination}
			}
			if cmd.IsComplete(ev.line, ev.isStdout) {
				return nil
			}

		case <-e.exited:
			return &SubmissionFailedError{Cause: CauseProcessDied, Err: e.waitErr}
		case <-j.forceCancelCh:
			return ErrCancelled
		case <-deadline:
			return &SubmissionFailedError{Cause: CauseCommandTimeout}
		}
	}
}

func isCancelErr(err error) bool { return err == ErrCancelled }

func (e *processExecutor) safeRun(j *job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &SubmissionFailedError{Cause: CauseCallbackPanic}
		}
	}()
	return j.run()
}

// requestStop asks run to stop the executor at its next opportunity: after
// the in-flight submission finishes if busy, or immediately if idle.
func (e *processExecutor) requestStop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *processExecutor) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// finishStop runs the manager's orderly-termination hook, bounded by
// terminationGrace, falling back to destroy on failure or timeout. It always
// leaves the executor fully retired from the pool's bookkeeping, regardless
// of which path it took to get there.
func (e *processExecutor) finishStop() {
	done := make(chan bool, 1)
	go func() { done <- e.manager.Terminate(execShell{e}) }()

	select {
	case ok := <-done:
		if !ok {
			e.destroy()
			break
		}
		select {
		case <-e.exited:
		case <-time.After(e.pool.cfg.TerminationGrace):
			e.destroy()
		}
	case <-time.After(e.pool.cfg.TerminationGrace):
		e.destroy()
	}
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	e.readersWG.Wait()
	e.setState(stateStopped)
	e.pool.onExecutorRetired(e)
}

// destroy forcibly kills the underlying process, and everything in its
// process group, so children it spawned are never left running
// unsupervised. Safe to call multiple times and from any goroutine.
func (e *processExecutor) destroy() {
	if e.cmd == nil {
		return
	}
	_ = terminateGroup(e.cmd)
}

func (e *processExecutor) idleSince() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// execShell adapts a processExecutor to the Shell interface handed to
// ProcessManager.OnStartup and ProcessManager.Terminate.
type execShell struct{ e *processExecutor }

func (s execShell) Run(commands ...*Command) error {
	j := &job{forceCancelCh: make(chan struct{})}
	for _, cmd := range commands {
		var deadline <-chan time.Time
		if cmd.Deadline > 0 {
			t := time.NewTimer(cmd.Deadline)
			defer t.Stop()
			deadline = t.C
		}
		if _, err := io.WriteString(s.e.stdin, cmd.Instruction+"\n"); err != nil {
			return &SubmissionFailedError{Cause: CauseWriteFailed, Err: err}
		}
		if err := s.e.runCommand(cmd, j, deadline); err != nil {
			return err
		}
	}
	return nil
}
