// Package plog routes the pool's verbose-mode events through a pluggable
// sink. In non-verbose mode the sink is a no-op so the hot paths pay
// nothing for logging they didn't ask for.
package plog

import "go.uber.org/zap"

// Sink is the minimal structured-logging surface the pool needs. It mirrors
// zap.Logger's method shape, but *zap.Logger does not satisfy it directly
// (its Named returns *zap.Logger), so Zap adapts one. It stays narrow so
// tests can supply a trivial fake.
type Sink interface {
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Named(name string) Sink
}

// Zap adapts a *zap.Logger to Sink.
type Zap struct{ L *zap.Logger }

func (z Zap) Info(msg string, fields ...zap.Field)  { z.L.Info(msg, fields...) }
func (z Zap) Warn(msg string, fields ...zap.Field)  { z.L.Warn(msg, fields...) }
func (z Zap) Error(msg string, fields ...zap.Field) { z.L.Error(msg, fields...) }
func (z Zap) Named(name string) Sink                { return Zap{L: z.L.Named(name)} }

type nop struct{}

func (nop) Info(string, ...zap.Field)  {}
func (nop) Warn(string, ...zap.Field)  {}
func (nop) Error(string, ...zap.Field) {}
func (nop) Named(string) Sink          { return nop{} }

// Nop returns a Sink that discards everything.
func Nop() Sink { return nop{} }

// FromZap wraps a *zap.Logger, falling back to a no-op if verbose is false
// or logger is nil.
func FromZap(logger *zap.Logger, verbose bool) Sink {
	if !verbose || logger == nil {
		return Nop()
	}
	return Zap{L: logger}
}
