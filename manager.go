package procpool

// ProcessLaunchSpec describes how to spawn one child process.
type ProcessLaunchSpec struct {
	// Path is the executable to run; resolved against PATH if not absolute.
	Path string
	// Args are the command-line arguments, not including Path itself.
	Args []string
	// Env is the child's environment. A nil slice inherits the current
	// process's environment (matching os/exec.Cmd's own default).
	Env []string
	// Dir is the child's working directory. Empty uses the caller's.
	Dir string
}

// Shell is the capability handed to ProcessManager.OnStartup and
// ProcessManager.Terminate: it lets the manager run a submission
// synchronously against the one process it is scoped to, before that
// process is declared idle (OnStartup) or while tearing it down
// (Terminate).
type Shell interface {
	// Run executes commands in order on the underlying process, exactly as
	// the pool's own dispatch loop would for a submission. It returns the
	// first error encountered (a command's error-termination firing, its
	// Deadline elapsing, a predicate panicking, a write failure, or the
	// process exiting mid-command).
	Run(commands ...*Command) error
}

// ProcessManager is the user-supplied, per-executor policy the pool
// consumes. Concrete command subtypes, their parsing, and convenience
// manager factories for specific interpreters live outside this package —
// only the interface lives here.
type ProcessManager interface {
	// NewProcess returns the launch spec for a fresh process instance.
	// Called once per ProcessExecutor.
	NewProcess() (ProcessLaunchSpec, error)

	// StartsUpInstantly reports whether the process is usable the moment
	// it is spawned (after any OnStartup submission), skipping line-based
	// startup detection entirely.
	StartsUpInstantly() bool

	// IsStartedUp is consulted once per output line while an executor is
	// in the starting state, only when StartsUpInstantly returns false.
	// The first true return moves the executor to idle.
	IsStartedUp(line string, isStdout bool) bool

	// OnStartup runs once per executor, after the process is spawned and
	// (if StartsUpInstantly is false) after the startup predicate fires,
	// but before the executor is declared idle. A non-nil error fails the
	// executor's startup with StartupFailedError. May be a no-op.
	OnStartup(shell Shell) error

	// Terminate attempts an orderly stop of the process (e.g. writing an
	// exit command) and reports whether it succeeded. Returning false, or
	// taking longer than the pool's TerminationGrace, causes the executor
	// to fall back to forcibly destroying the process.
	Terminate(shell Shell) bool
}

// BaseManager supplies no-op OnStartup/Terminate/StartsUpInstantly
// implementations so a concrete ProcessManager only has to implement the
// methods it cares about. Terminate's default reports false, so the
// executor always falls back to forced destruction unless a manager
// overrides it with a real orderly-shutdown command.
type BaseManager struct{}

func (BaseManager) StartsUpInstantly() bool                  { return true }
func (BaseManager) IsStartedUp(line string, stdout bool) bool { return true }
func (BaseManager) OnStartup(shell Shell) error               { return nil }
func (BaseManager) Terminate(shell Shell) bool                { return false }
