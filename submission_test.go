package procpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_EmptyCommandsRejected(t *testing.T) {
	sub := NewSubmission(func(*Submission[int]) (int, error) { return 0, nil })
	handle, err := Submit[int](nil, sub)
	assert.Nil(t, handle)
	assert.ErrorIs(t, err, ErrEmptySubmission)
}

func TestJob_FinishIsIdempotent(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return 42, nil }, nil, nil, false)
	j.finish(42, nil)
	j.finish(99, assertErr)
	<-j.done
	assert.Equal(t, 42, j.result)
}

func TestJob_CooperativeCancelDoesNotCloseForceChan(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	j.cancel(false)
	assert.True(t, j.cooperativelyCancelled())
	select {
	case <-j.forceCancelCh:
		t.Fatal("cooperative cancel must not close forceCancelCh")
	default:
	}
}

func TestJob_ForceCancelClosesChan(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	j.cancel(true)
	select {
	case <-j.forceCancelCh:
	default:
		t.Fatal("forced cancel must close forceCancelCh")
	}
}

func TestJob_CancelIsIdempotent(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	assert.NotPanics(t, func() {
		j.cancel(true)
		j.cancel(true)
		j.cancel(false)
	})
}

func TestSubmissionHandle_WaitReturnsResult(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	h := &SubmissionHandle[string]{id: "1", job: j}
	j.finish("done", nil)

	result, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestSubmissionHandle_TryWaitBeforeFinish(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	h := &SubmissionHandle[string]{id: "1", job: j}

	_, _, ok := h.TryWait()
	assert.False(t, ok)

	j.finish("done", nil)
	result, err, ok := h.TryWait()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestSubmissionHandle_OnStartedAndOnFinishedFireOnce(t *testing.T) {
	var started, finished int
	j := newJob("1", nil, func() (any, error) { return nil, nil },
		func() { started++ }, func() { finished++ }, false)

	j.markStarted()
	j.markStarted()
	j.finish(nil, nil)
	j.finish(nil, nil)

	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
}

func TestJob_CancelRemovesQueuedJobAndFinishesHandle(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	q := newSubmissionQueue()
	require.True(t, q.enqueue(j))
	j.queue = q

	j.cancel(true)

	select {
	case <-j.done:
	default:
		t.Fatal("cancelling a queued job must finish its handle immediately")
	}
	assert.ErrorIs(t, j.err, ErrCancelled)
	assert.False(t, q.remove(j), "job should already be gone from the queue")
}

func TestJob_RetireHostAfter(t *testing.T) {
	j := newJob("1", nil, func() (any, error) { return nil, nil }, nil, nil, true)
	assert.True(t, j.retireHostAfter())

	j2 := newJob("2", nil, func() (any, error) { return nil, nil }, nil, nil, false)
	assert.False(t, j2.retireHostAfter())
}

var assertErr = &SubmissionFailedError{Cause: CauseProcessDied}
