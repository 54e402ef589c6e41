// Package render is a request-scoped template execution runtime. Templates
// are rendered by pluggable engines (pongo2, Go text/template) with helper
// functions written in JavaScript and run in pooled, isolated VMs
// (QuickJS by default, V8 with -tags v8). Helpers may be async: their
// results are substituted after the synchronous render pass.
package render

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/render/internal/engines"
	"github.com/cryguy/render/internal/executor"
	"github.com/cryguy/render/internal/isolate"
	"github.com/cryguy/render/internal/store"
	"github.com/cryguy/render/internal/tplcache"
)

// Runtime renders templates. It is safe for concurrent use.
type Runtime struct {
	cfg       Config
	engines   *engines.Registry
	host      *isolate.Host
	store     store.Store
	ownsStore bool
	exec      *executor.Executor
	logger    *zap.Logger
}

// New creates a Runtime. Close releases its VMs and store.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.factory == nil {
		o.factory = newVMFactory()
	}

	rt := &Runtime{cfg: cfg, logger: o.logger, store: o.store}
	if rt.store == nil {
		var err error
		if rt.store, err = openStore(cfg.Store.Path); err != nil {
			return nil, err
		}
		rt.ownsStore = true
	}

	rt.engines = engines.Default()
	for _, e := range o.engines {
		rt.engines.Register(e)
	}

	ec := cfg.engineConfig()
	host, err := isolate.New(o.factory, isolate.Options{
		PoolSize:      ec.PoolSize,
		MemoryLimitMB: ec.MemoryLimitMB,
		Timeout:       ec.ExecutionTimeout,
		HelpersLoader: ec.HelpersLoader,
		Modules:       ec.Modules,
		Logger:        o.logger.Named("isolate"),
	})
	if err != nil {
		rt.closeStore()
		return nil, fmt.Errorf("starting isolation host: %w", err)
	}
	rt.host = host

	cache, err := tplcache.New(ec.CacheSize)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.exec, err = executor.New(executor.Options{
		Engines: rt.engines,
		Host:    host,
		Cache:   cache,
		Folders: rt.store,
		Helpers: o.helpers,
		Config:  ec,
		Logger:  o.logger.Named("executor"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openStore(path string) (store.Store, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	s, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Render executes req. Failures are *Error values carrying the entity and
// property that caused them.
func (r *Runtime) Render(ctx context.Context, req *Request) (*Result, error) {
	return r.exec.Execute(ctx, req)
}

// RenderPath renders the stored template at path.
func (r *Runtime) RenderPath(ctx context.Context, path string, data map[string]any) (*Result, error) {
	tpl, err := r.store.ResolveFromPath(ctx, path, SetTemplates, "")
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %s not found", path)
	}
	return r.Render(ctx, &Request{Template: tpl, Data: data})
}

// Evaluate renders in as part of the running request requestID. Errors are
// returned without the top-level enrichment Render applies.
func (r *Runtime) Evaluate(ctx context.Context, requestID string, in EvalInput, entity *Entity, set string) (string, error) {
	return r.exec.Evaluate(ctx, requestID, in, entity, set)
}

// Store returns the entity store.
func (r *Runtime) Store() Store { return r.store }

// RegisterEngine adds or replaces an engine adapter.
func (r *Runtime) RegisterEngine(e Engine) {
	r.engines.Register(e)
}

// Engines lists the registered engine names.
func (r *Runtime) Engines() []string {
	return r.engines.Names()
}

// ResetCache drops every compiled template.
func (r *Runtime) ResetCache() {
	r.exec.Cache().Reset()
}

// Close disposes idle VMs and closes a store the runtime opened itself.
func (r *Runtime) Close() {
	if r.host != nil {
		r.host.Close()
	}
	r.closeStore()
}

func (r *Runtime) closeStore() {
	if r.ownsStore && r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("closing entity store", zap.Error(err))
		}
	}
}
