package core

import (
	"context"
	"sync"
)

// RunSpec describes one helper program to run in isolation.
type RunSpec struct {
	// RequestID is the logical render the program belongs to.
	RequestID string
	// StateID selects the RequestState that receives console output.
	StateID uint64
	Code    string
	Seed    map[string]any
	// ErrorLineOffset is subtracted from reported error lines so they point
	// into the user part of Code.
	ErrorLineOffset int
	// OnRequire is consulted before the configured modules.
	OnRequire func(module string) (source string, ok bool)
}

// Console receives log output on behalf of helper code.
type Console interface {
	Log(level, message string)
}

// ConsoleFunc adapts a function to Console.
type ConsoleFunc func(level, message string)

func (f ConsoleFunc) Log(level, message string) { f(level, message) }

// Prepared carries the bindings produced by evaluating a helper program.
// It stays valid until Release.
type Prepared struct {
	Require Importer
	Console Console
	Helpers map[string]Helper

	once    sync.Once
	release func()
}

// NewPrepared bundles bindings with the function that gives their
// resources back to the host.
func NewPrepared(require Importer, console Console, helpers map[string]Helper, release func()) *Prepared {
	return &Prepared{Require: require, Console: console, Helpers: helpers, release: release}
}

// Release returns the underlying resources. It is safe to call repeatedly.
func (p *Prepared) Release() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Host runs untrusted helper programs in an isolated context.
type Host interface {
	Prepare(ctx context.Context, spec RunSpec) (*Prepared, error)
}
