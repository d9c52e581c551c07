package procpool

import (
	"time"

	"go.uber.org/zap"
)

// ManagerFactory produces one ProcessManager per ProcessExecutor. The pool
// calls it once per executor it spawns (initial population, growth, and
// replacement after a crash all go through the same path), so a manager
// that holds per-process state does not need to guard against reuse.
type ManagerFactory func() (ProcessManager, error)

// PoolConfig configures a Pool: a zero-value-friendly struct, a setDefaults
// step, and a validate step run once by NewPool.
type PoolConfig struct {
	// ManagerFactory is required: it supplies the launch spec, startup
	// detection, and optional init/termination hooks for every executor.
	ManagerFactory ManagerFactory

	// Min is the minimum number of live executors the pool maintains once
	// past initial startup.
	Min int

	// Max bounds the number of concurrently live executors.
	Max int

	// Reserve is the number of idle executors to keep warm when the pool
	// is not saturated. 0 disables warm-pool behavior.
	Reserve int

	// KeepAlive is the maximum duration an executor may sit idle before it
	// is retired, subject to the reserve/min invariants. Values <= 0
	// normalize to 0, meaning "no idle timeout".
	KeepAlive time.Duration

	// Verbose enables structured logging of executor/submission lifecycle
	// events through Logger. When false, logging is a no-op regardless of
	// Logger.
	Verbose bool

	// Logger receives verbose-mode events. If nil while Verbose is true, a
	// production zap logger is constructed automatically.
	Logger *zap.Logger

	// StartupGrace bounds how long a newly spawned executor may spend in
	// the "starting" state (running its startup predicate and optional
	// init submission) before it is considered failed. Defaults to 30s.
	StartupGrace time.Duration

	// TerminationGrace bounds how long orderly termination
	// (ProcessManager.Terminate) may take before the executor force-kills
	// the process. Defaults to 5s.
	TerminationGrace time.Duration
}

func (c *PoolConfig) setDefaults() {
	if c.KeepAlive < 0 {
		c.KeepAlive = 0
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = 30 * time.Second
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = 5 * time.Second
	}
}

func (c *PoolConfig) validate() error {
	if c.ManagerFactory == nil {
		return configErrf("ManagerFactory is required")
	}
	if c.Min < 0 {
		return configErrf("min must be >= 0, got %d", c.Min)
	}
	if c.Max < 1 {
		return configErrf("max must be >= 1, got %d", c.Max)
	}
	if c.Min > c.Max {
		return configErrf("min (%d) must be <= max (%d)", c.Min, c.Max)
	}
	if c.Reserve < 0 {
		return configErrf("reserve must be >= 0, got %d", c.Reserve)
	}
	if c.Reserve >= c.Max {
		return configErrf("reserve (%d) must be < max (%d)", c.Reserve, c.Max)
	}
	return nil
}
