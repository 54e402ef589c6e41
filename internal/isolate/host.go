// Package isolate runs helper code in pooled, sandboxed JavaScript VMs.
package isolate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/webapi"
)

// Loader names accepted for helper code.
const (
	LoaderJS = "js"
	LoaderTS = "ts"
)

// Options configures a Host.
type Options struct {
	PoolSize      int
	MemoryLimitMB int
	Timeout       time.Duration
	HelpersLoader string
	Modules       map[string]string
	Logger        *zap.Logger
}

// Host prepares helper code in a leased VM and exposes its functions as
// core.Helper values.
type Host struct {
	pool    *pool
	timeout time.Duration
	loader  string
	logger  *zap.Logger
}

// New creates a Host whose VMs come from factory.
func New(factory core.VMFactory, opts Options) (*Host, error) {
	if factory == nil {
		return nil, fmt.Errorf("isolate: nil VM factory")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PoolSize < 0 {
		opts.PoolSize = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch opts.HelpersLoader {
	case "":
		opts.HelpersLoader = LoaderJS
	case LoaderJS, LoaderTS:
	default:
		return nil, core.ConfigurationError("unknown helpers loader %q", opts.HelpersLoader)
	}
	p, err := newPool(opts.PoolSize, factory, opts.MemoryLimitMB, opts.Modules, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Host{
		pool:    p,
		timeout: opts.Timeout,
		loader:  opts.HelpersLoader,
		logger:  opts.Logger,
	}, nil
}

// Close disposes idle VMs. Outstanding leases are closed on release.
func (h *Host) Close() {
	h.pool.dispose()
}

// Prepare evaluates spec.Code in a leased VM. The lease is returned to the
// pool when the Prepared is released.
func (h *Host) Prepare(ctx context.Context, spec core.RunSpec) (*core.Prepared, error) {
	code, err := h.transform(spec)
	if err != nil {
		return nil, err
	}

	w, err := h.pool.get()
	if err != nil {
		return nil, err
	}
	l := &lease{host: h, w: w, ctx: ctx, spec: spec, id: w.lease}

	names, err := l.load(code)
	if err != nil {
		h.pool.put(w)
		return nil, err
	}

	helpers := make(map[string]core.Helper, len(names))
	for _, name := range names {
		helpers[name] = l.helper(name)
	}
	console := core.ConsoleFunc(func(level, msg string) {
		core.AddLog(spec.StateID, level, msg)
	})
	h.logger.Debug("helpers prepared",
		zap.String("requestId", spec.RequestID),
		zap.Int("helpers", len(helpers)))
	return core.NewPrepared(l.require, console, helpers, func() { h.pool.put(w) }), nil
}

// transform validates helper code, and transpiles it when the loader is ts.
func (h *Host) transform(spec core.RunSpec) (string, error) {
	loader := api.LoaderJS
	if h.loader == LoaderTS {
		loader = api.LoaderTS
	}
	res := api.Transform(spec.Code, api.TransformOptions{
		Loader:     loader,
		Sourcefile: "helpers.js",
	})
	if len(res.Errors) > 0 {
		msg := res.Errors[0]
		e := core.HelperError(fmt.Errorf("SyntaxError: %s", msg.Text))
		if msg.Location != nil {
			if line := msg.Location.Line - spec.ErrorLineOffset; line > 0 {
				e.Line = line
				e.Message += " (line " + strconv.Itoa(line) + ")"
			}
		}
		return "", e
	}
	if h.loader == LoaderTS {
		return string(res.Code), nil
	}
	return spec.Code, nil
}

// lease is one Prepare's claim on a worker.
type lease struct {
	host *Host
	w    *worker
	ctx  context.Context
	spec core.RunSpec
	id   uint64
}

// load seeds the VM and evaluates the helper program.
func (l *lease) load(code string) ([]string, error) {
	w := l.w
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := webapi.SetReqID(w.vm, l.spec.StateID); err != nil {
		return nil, err
	}
	if len(l.spec.Seed) > 0 {
		seed, err := json.Marshal(l.spec.Seed)
		if err != nil {
			return nil, core.HelperError(fmt.Errorf("encoding context globals: %w", err))
		}
		if err := w.vm.SetGlobal("__tmp_seed", string(seed)); err != nil {
			return nil, err
		}
		if err := w.vm.Eval("Object.assign(globalThis, JSON.parse(globalThis.__tmp_seed)); delete globalThis.__tmp_seed;"); err != nil {
			return nil, err
		}
	}
	w.modules.SetHook(l.spec.OnRequire)

	err := l.guard(l.ctx, func() error {
		return w.vm.Eval(webapi.HelperProgram(code))
	})
	if err != nil {
		return nil, l.evalError(err)
	}
	return webapi.HelperNames(w.vm)
}

// guard runs fn with a watchdog that interrupts the VM when the host
// timeout elapses or ctx is done. An interrupted worker is discarded.
func (l *lease) guard(ctx context.Context, fn func() error) (err error) {
	w := l.w
	var fired atomic.Bool
	interrupt := func() {
		fired.Store(true)
		w.vm.Interrupt()
	}
	watchdog := time.AfterFunc(l.host.timeout, interrupt)
	stop := context.AfterFunc(ctx, interrupt)
	defer func() {
		watchdog.Stop()
		stop()
		if r := recover(); r != nil {
			w.broken.Store(true)
			err = core.HelperError(fmt.Errorf("helper runtime panic: %v", r))
		}
		if fired.Load() {
			w.broken.Store(true)
			err = fmt.Errorf("%w: helper execution interrupted", core.ErrTimeout)
		}
	}()
	return fn()
}

// evalError maps an evaluation failure to a helper error with the line in
// the user's helper code.
func (l *lease) evalError(err error) error {
	if _, ok := err.(*core.Error); ok {
		return err
	}
	e := core.AsError(err)
	if e.Kind == core.KindTimeout {
		return e
	}
	if line := l.userLine(webapi.StackLine(err.Error())); line > 0 {
		e.Line = line
	}
	return e
}

func (l *lease) userLine(reported int) int {
	if reported <= 0 {
		return 0
	}
	line := reported - webapi.HelperProgramPrefixLines - l.spec.ErrorLineOffset
	if line <= 0 {
		return 0
	}
	return line
}

func (l *lease) jsError(name string, jsErr *webapi.JSError) error {
	e := core.HelperError(jsErr)
	if line := l.userLine(webapi.StackLine(jsErr.Stack)); line > 0 {
		e.Line = line
		e.Message += " (helper " + name + ", line " + strconv.Itoa(line) + ")"
	}
	return e
}

// acquire locks the worker and checks the lease is still current.
func (l *lease) acquire(what string) error {
	l.w.mu.Lock()
	if l.w.lease != l.id {
		l.w.mu.Unlock()
		return core.HelperError(fmt.Errorf("%s used after its render finished", what))
	}
	return nil
}

// helper wraps the JS function name. Promise results are returned as an
// Awaitable that pumps the VM's event loop when awaited.
func (l *lease) helper(name string) core.Helper {
	return func(args ...any) (any, error) {
		if err := l.acquire("helper " + name); err != nil {
			return nil, err
		}
		defer l.w.mu.Unlock()

		var res *webapi.CallResult
		err := l.guard(l.ctx, func() (err error) {
			res, err = webapi.CallHelper(l.w.vm, name, args)
			return err
		})
		if err != nil {
			return nil, l.evalError(err)
		}
		if res.Error != nil {
			return nil, l.jsError(name, res.Error)
		}
		if res.Pending > 0 {
			id := res.Pending
			return core.Defer(func(ctx context.Context) (any, error) {
				return l.await(ctx, name, id)
			}), nil
		}
		return decode(res.Value)
	}
}

func (l *lease) await(ctx context.Context, name string, id int) (any, error) {
	if err := l.acquire("helper " + name); err != nil {
		return nil, err
	}
	defer l.w.mu.Unlock()

	deadline := time.Now().Add(l.host.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	var s *webapi.Settlement
	err := l.guard(ctx, func() (err error) {
		s, err = webapi.AwaitHelper(ctx, l.w.vm, l.w.el, id, deadline)
		return err
	})
	if err != nil {
		return nil, l.evalError(err)
	}
	if s.State == "rejected" {
		jsErr := s.Error
		if jsErr == nil {
			jsErr = &webapi.JSError{Message: "helper " + name + " rejected"}
		}
		return nil, l.jsError(name, jsErr)
	}
	return decode(s.Value)
}

// require loads module through the VM's require for engine use.
func (l *lease) require(module string) (any, error) {
	if err := l.acquire("require"); err != nil {
		return nil, err
	}
	defer l.w.mu.Unlock()

	var out string
	err := l.guard(l.ctx, func() (err error) {
		out, err = l.w.vm.EvalString(fmt.Sprintf("JSON.stringify(__require(%s)) || 'null'", strconv.Quote(module)))
		return err
	})
	if err != nil {
		return nil, l.evalError(err)
	}
	return decode(json.RawMessage(out))
}

func decode(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, core.HelperError(fmt.Errorf("decoding helper result: %w", err))
	}
	return v, nil
}
