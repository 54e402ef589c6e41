package isolate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
	"github.com/cryguy/render/internal/webapi"
)

// ErrPoolClosed is returned when a VM is requested from a closed host.
var ErrPoolClosed = errors.New("isolate: pool is closed")

// setupFunc configures a VM with the globals helper code can use.
type setupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// resetGlobalsJS records the globals present after setup and installs
// __resetGlobals, which removes everything a lease added.
const resetGlobalsJS = `
(function() {
	var keep = {};
	Object.getOwnPropertyNames(globalThis).forEach(function(n) { keep[n] = true; });
	keep.__resetGlobals = true;
	globalThis.__resetGlobals = function() {
		Object.getOwnPropertyNames(globalThis).forEach(function(n) {
			if (!keep[n]) {
				try { delete globalThis[n]; } catch (e) {}
			}
		});
		globalThis.__timerCallbacks = {};
		__requireReset();
		__bridgeReset();
	};
})();
`

// worker is one pooled VM. mu serializes every call into the VM; lease
// changes each time the worker is handed out so stale helpers can be
// detected.
type worker struct {
	mu      sync.Mutex
	vm      core.VM
	el      *eventloop.EventLoop
	modules *webapi.Modules
	lease   uint64
	broken  atomic.Bool
}

// pool keeps pre-warmed VMs. get never blocks: nested renders may hold
// several leases at once, so an empty pool creates a fresh VM instead.
type pool struct {
	workers  chan *worker
	factory  core.VMFactory
	memLimit int
	modules  map[string]string
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	leases atomic.Uint64
	live   atomic.Int64
}

func newPool(size int, factory core.VMFactory, memLimit int, modules map[string]string, logger *zap.Logger) (*pool, error) {
	p := &pool{
		workers:  make(chan *worker, size),
		factory:  factory,
		memLimit: memLimit,
		modules:  modules,
		logger:   logger,
	}
	for i := 0; i < size; i++ {
		w, err := p.newWorker()
		if err != nil {
			p.dispose()
			return nil, fmt.Errorf("creating pool worker %d: %w", i, err)
		}
		p.workers <- w
	}
	return p, nil
}

func (p *pool) setupFuncs(mods *webapi.Modules) []setupFunc {
	return []setupFunc{
		webapi.SetupGlobals,
		webapi.SetupEncoding,
		webapi.SetupTimers,
		webapi.SetupConsole,
		webapi.SetupConsoleExt,
		webapi.SetupRequire(mods),
		webapi.SetupHelperBridge,
	}
}

// newWorker creates a VM and runs every setup function on it.
func (p *pool) newWorker() (*worker, error) {
	vm, err := p.factory(p.memLimit)
	if err != nil {
		return nil, err
	}
	el := eventloop.New()
	mods := webapi.NewModules(p.modules)
	for _, setup := range p.setupFuncs(mods) {
		if err := setup(vm, el); err != nil {
			vm.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	if err := vm.Eval(resetGlobalsJS); err != nil {
		vm.Close()
		return nil, fmt.Errorf("setup: %w", err)
	}
	p.live.Add(1)
	return &worker{vm: vm, el: el, modules: mods}, nil
}

// get leases a worker, creating one when the pool is empty.
func (p *pool) get() (*worker, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	var w *worker
	select {
	case w = <-p.workers:
	default:
		var err error
		if w, err = p.newWorker(); err != nil {
			return nil, err
		}
		p.logger.Debug("pool empty, created overflow VM", zap.Int64("live", p.live.Load()))
	}
	w.mu.Lock()
	w.lease = p.leases.Add(1)
	w.mu.Unlock()
	return w, nil
}

// put resets a worker and returns it to the pool. Broken workers and
// workers that do not fit are closed.
func (p *pool) put(w *worker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lease = 0
	w.modules.SetHook(nil)
	w.el.Reset()

	if !w.broken.Load() {
		if err := w.vm.Eval("__resetGlobals()"); err != nil {
			w.broken.Store(true)
		}
	}
	if w.broken.Load() {
		p.logger.Warn("discarding VM after interrupt or failure")
		p.closeWorker(w)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeWorker(w)
		return
	}
	select {
	case p.workers <- w:
	default:
		p.closeWorker(w)
	}
}

func (p *pool) closeWorker(w *worker) {
	w.vm.Close()
	p.live.Add(-1)
}

// dispose closes all idle workers. Leased workers are closed when put back.
func (p *pool) dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for {
		select {
		case w := <-p.workers:
			p.closeWorker(w)
		default:
			return
		}
	}
}
