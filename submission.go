package procpool

import (
	"sync"

	"github.com/google/uuid"
)

// Submission is an ordered list of commands to run on a single executor, as
// one atomic unit of work. T is the type produced by Result once every
// command has completed.
//
// The zero value is not usable; construct with NewSubmission.
type Submission[T any] struct {
	// Commands run in order on whichever executor is assigned. A later
	// command only starts once the previous one's IsComplete fired.
	Commands []*Command

	// Result, once every command has completed, converts the submission's
	// output into T. Only called on success; a failed or cancelled
	// submission never calls Result. A panic inside Result is recovered
	// and surfaces as SubmissionFailedError{Cause: CauseCallbackPanic}.
	Result func(*Submission[T]) (T, error)

	// OnStarted, if set, is invoked once the submission begins executing
	// on an assigned executor (as opposed to sitting queued).
	OnStarted func()

	// OnFinished, if set, is invoked exactly once when the submission
	// reaches any terminal state (completed, failed, or cancelled).
	OnFinished func()

	// CancelProcessAfter, if true, retires the hosting executor once this
	// submission reaches a terminal state instead of returning it to idle,
	// for interactions that leave the process unfit to reuse (e.g. a
	// one-shot command, or one that intentionally exits the process).
	CancelProcessAfter bool
}

// NewSubmission constructs a Submission from one or more commands and a
// result function. It does not check commands; Submit rejects a submission
// with no commands with ErrEmptySubmission.
func NewSubmission[T any](result func(*Submission[T]) (T, error), commands ...*Command) *Submission[T] {
	return &Submission[T]{Commands: commands, Result: result}
}

// SubmissionHandle is returned by Submit and lets a caller wait for, or
// cancel, one in-flight submission.
type SubmissionHandle[T any] struct {
	id  string
	job *job
}

// ID uniquely identifies this submission for the lifetime of the pool.
func (h *SubmissionHandle[T]) ID() string { return h.id }

// Wait blocks until the submission reaches a terminal state and returns its
// result. A failed submission returns the zero value of T and a non-nil
// error (SubmissionFailedError or, if cancelled, ErrCancelled).
func (h *SubmissionHandle[T]) Wait() (T, error) {
	<-h.job.done
	return resultAs[T](h.job)
}

// TryWait reports the submission's result without blocking if it has
// already finished; ok is false while it is still queued or executing.
func (h *SubmissionHandle[T]) TryWait() (result T, err error, ok bool) {
	select {
	case <-h.job.done:
	default:
		return result, nil, false
	}
	result, err = resultAs[T](h.job)
	return result, err, true
}

// Cancel requests that the submission be aborted. If force is false
// (cooperative cancellation), the request only takes effect at the next
// command boundary — a command already running on the process finishes
// normally. If force is true, the executor is destroyed immediately and the
// submission fails with ErrCancelled regardless of what it was doing.
// Cancel is idempotent: calling it again, or calling it on an
// already-finished submission, is a no-op.
func (h *SubmissionHandle[T]) Cancel(force bool) {
	h.job.cancel(force)
}

func resultAs[T any](j *job) (T, error) {
	var zero T
	if j.err != nil {
		return zero, j.err
	}
	v, ok := j.result.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

// job is the type-erased, pool-internal representation of a Submission[T].
// Go methods can't introduce new type parameters, so the generic surface
// (Submit, SubmissionHandle[T]) is free functions layered over this
// concrete, non-generic struct that the queue and dispatcher actually move
// around.
type job struct {
	id       string
	commands []*Command

	// run executes Result against the originating Submission[T] and returns
	// the outcome as an any. It does not recover panics itself; the
	// executor calls it through safeRun, which turns a panic into
	// SubmissionFailedError{Cause: CauseCallbackPanic}.
	run func() (any, error)

	onStarted  func()
	onFinished func()

	// cancelProcessAfter mirrors Submission.CancelProcessAfter. Set once at
	// construction and never mutated, so it needs no lock.
	cancelProcessAfter bool

	// queue is the submission queue this job was enqueued onto, so Cancel
	// can pull it out immediately while it is still waiting for an
	// executor. Left nil for jobs run directly through a Shell (OnStartup,
	// Terminate), which are never queued and never cancelled by a handle.
	queue *submissionQueue

	done chan struct{}

	mu        sync.Mutex
	result    any
	err       error
	cancelled bool
	forced    bool
	started   bool

	// forceCancelCh is closed exactly once, the moment a forced cancel is
	// requested, so the executor running this job can react immediately
	// instead of waiting for the current command to finish.
	forceCancelCh chan struct{}
	cancelOnce    sync.Once
}

func newJob(id string, commands []*Command, run func() (any, error), onStarted, onFinished func(), cancelProcessAfter bool) *job {
	return &job{
		id:                 id,
		commands:           commands,
		run:                run,
		onStarted:          onStarted,
		onFinished:         onFinished,
		cancelProcessAfter: cancelProcessAfter,
		done:               make(chan struct{}),
		forceCancelCh:      make(chan struct{}),
	}
}

func (j *job) cancel(force bool) {
	j.mu.Lock()
	alreadyDone := j.isDoneLocked()
	j.mu.Unlock()
	if alreadyDone {
		return
	}
	j.mu.Lock()
	j.cancelled = true
	if force {
		j.forced = true
	}
	j.mu.Unlock()
	if force {
		j.cancelOnce.Do(func() { close(j.forceCancelCh) })
	}

	// If the job is still sitting in the queue (never assigned to an
	// executor), pull it out and finish it immediately instead of leaving
	// a canceled job to be dispatched and discovered later, or never
	// dispatched at all for lack of a free executor.
	if j.queue != nil && j.queue.remove(j) {
		j.finish(nil, ErrCancelled)
	}
}

// retireHostAfter reports whether this job's submission requested that its
// hosting executor be retired once the job reaches a terminal state.
func (j *job) retireHostAfter() bool { return j.cancelProcessAfter }

func (j *job) isDoneLocked() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// cooperativelyCancelled reports whether any cancel (forced or not) was
// requested, for the executor to consult between commands.
func (j *job) cooperativelyCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *job) finish(result any, err error) {
	j.mu.Lock()
	if j.isDoneLocked() {
		j.mu.Unlock()
		return
	}
	j.result, j.err = result, err
	j.mu.Unlock()
	close(j.done)
	if j.onFinished != nil {
		safeCall(j.onFinished)
	}
}

func (j *job) markStarted() {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	j.started = true
	j.mu.Unlock()
	if j.onStarted != nil {
		safeCall(j.onStarted)
	}
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

// CancelledSubmission identifies a submission that ForceShutdown aborted. It
// deliberately does not carry a typed Submission[T], since ForceShutdown
// operates across submissions of heterogeneous result types; use the ID to
// correlate with whatever side-table a caller keeps, if any.
type CancelledSubmission struct {
	ID string
}

// Submit enqueues sub for execution and returns a handle to observe its
// outcome. It is a free function, not a method on Pool, because Go does not
// allow a method to introduce a new type parameter.
func Submit[T any](p *Pool, sub *Submission[T]) (*SubmissionHandle[T], error) {
	if len(sub.Commands) == 0 {
		return nil, ErrEmptySubmission
	}
	id := uuid.NewString()
	j := newJob(id, sub.Commands, func() (any, error) {
		return sub.Result(sub)
	}, sub.OnStarted, sub.OnFinished, sub.CancelProcessAfter)
	j.queue = p.queue
	if err := p.enqueue(j); err != nil {
		return nil, err
	}
	return &SubmissionHandle[T]{id: id, job: j}, nil
}
