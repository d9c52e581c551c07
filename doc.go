// Package procpool maintains a dynamically sized fleet of long-running
// external OS processes and dispatches ordered submissions of text commands
// to them over stdin/stdout/stderr.
//
// A Pool is configured with a ManagerFactory that knows how to launch and
// recognize readiness for one kind of process, plus sizing knobs (Min, Max,
// Reserve, KeepAlive). Callers build a Submission of one or more Commands
// and hand it to the free function Submit, which returns a SubmissionHandle
// for waiting on, or cancelling, that unit of work.
//
// The pool grows toward Reserve idle executors while below Max, shrinks
// idle executors past KeepAlive back down to Min (keeping Reserve of them
// idle), and replaces an executor whose process dies unexpectedly when that
// leaves it short of Min or Reserve — all decided by a single dispatcher
// goroutine so sizing and assignment behave as if single-threaded even
// though individual executors run concurrently.
package procpool
