package procpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edirooss/procpool/internal/plog"
	"github.com/edirooss/procpool/internal/ringlog"
)

func newTestExecutor(t *testing.T, mgr ProcessManager) (*Pool, *processExecutor) {
	t.Helper()
	p := &Pool{
		cfg:       PoolConfig{StartupGrace: 2 * time.Second, TerminationGrace: 2 * time.Second},
		log:       plog.Nop(),
		ring:      ringlog.NewManager(),
		queue:     newSubmissionQueue(),
		executors: make(map[int64]*processExecutor),
		idle:      make(map[int64]*processExecutor),
		wakeCh:    make(chan struct{}, 1),
	}
	e := newProcessExecutor(p, 1, mgr, p.log, p.ring)
	return p, e
}

func TestProcessExecutor_StartFailsForBadExecutable(t *testing.T) {
	mgr := &badPathManager{}
	_, e := newTestExecutor(t, mgr)
	err := e.start(context.Background(), time.Second)
	require.Error(t, err)
	var startErr *StartupFailedError
	assert.ErrorAs(t, err, &startErr)
}

type badPathManager struct{ BaseManager }

func (badPathManager) NewProcess() (ProcessLaunchSpec, error) {
	return ProcessLaunchSpec{Path: "procpool-definitely-not-a-real-binary"}, nil
}

func TestProcessExecutor_StartSucceedsAndReachesIdle(t *testing.T) {
	_, e := newTestExecutor(t, &catManager{})
	t.Cleanup(e.destroy)

	err := e.start(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, stateIdle, e.getState())
}
