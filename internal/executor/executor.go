// Package executor orchestrates one render: it coordinates helper
// preparation per request, compiles through the shared cache, runs the
// engine with async-aware helpers and enriches failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/render/internal/broker"
	"github.com/cryguy/render/internal/coordinator"
	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/store"
	"github.com/cryguy/render/internal/tplcache"
)

// Engines looks up engine adapters by name.
type Engines interface {
	Lookup(name string) (core.Engine, bool)
}

// Request is one top-level render.
type Request struct {
	// ID identifies the logical render. A random id is used when empty.
	ID            string
	Template      *core.Entity
	Engine        string // overrides Template.Engine when set
	SystemHelpers string
	Data          map[string]any
}

// Result is the output of a successful render.
type Result struct {
	Content  string
	Logs     []core.LogEntry
	Duration time.Duration
}

// EvalInput describes a nested evaluation.
type EvalInput struct {
	Engine  string
	Content string
	Helpers string
	Data    map[string]any
}

// Options configures an Executor.
type Options struct {
	Engines Engines
	Host    core.Host
	Cache   *tplcache.Cache
	Folders store.Folders
	// Helpers are native helpers available to every template. component is
	// registered unless overridden here.
	Helpers map[string]NativeHelper
	Config  core.EngineConfig
	Logger  *zap.Logger
}

// Executor renders templates. It is safe for concurrent use.
type Executor struct {
	engines Engines
	host    core.Host
	cache   *tplcache.Cache
	folders store.Folders
	native  map[string]NativeHelper
	cfg     core.EngineConfig
	coord   *coordinator.Coordinator
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Engines == nil {
		return nil, errors.New("executor: no engine registry")
	}
	if opts.Host == nil {
		return nil, errors.New("executor: no isolation host")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		size := opts.Config.CacheSize
		if size <= 0 {
			size = tplcache.DefaultSize
		}
		c, err := tplcache.New(size)
		if err != nil {
			return nil, err
		}
		opts.Cache = c
	}
	native := map[string]NativeHelper{"component": Component}
	for name, h := range opts.Helpers {
		native[name] = h
	}
	return &Executor{
		engines:  opts.Engines,
		host:     opts.Host,
		cache:    opts.Cache,
		folders:  opts.Folders,
		native:   native,
		cfg:      opts.Config,
		coord:    coordinator.New(),
		logger:   opts.Logger,
		sessions: make(map[string]*session),
	}, nil
}

// Cache returns the compiled template cache.
func (x *Executor) Cache() *tplcache.Cache { return x.cache }

// ActiveRequests reports the number of renders in flight.
func (x *Executor) ActiveRequests() int { return x.coord.Active() }

func (x *Executor) lookupEngine(name string) (core.Engine, error) {
	e, ok := x.engines.Lookup(name)
	if !ok {
		return nil, core.ConfigurationError("Engine '%s' not found. If this is a custom engine make sure it's properly registered", name)
	}
	return e, nil
}

// Execute renders req.Template. Errors are *core.Error values whose
// message names the engine and template path.
func (x *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	if req == nil || req.Template == nil {
		return nil, core.ConfigurationError("render request requires a template")
	}
	engineName := req.Engine
	if engineName == "" {
		engineName = req.Template.Engine
	}
	eng, err := x.lookupEngine(engineName)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	scope, err := x.coord.Open(id)
	if err != nil {
		return nil, core.ConfigurationError("request %s is already rendering", id)
	}
	defer scope.Close()

	stateID := core.NewRequestState()
	defer core.ClearRequestState(stateID)

	if x.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.cfg.ExecutionTimeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, evaluatorKey{}, Evaluator{x: x, requestID: id})

	s := &session{
		x:          x,
		id:         id,
		ctx:        ctx,
		scope:      scope,
		stateID:    stateID,
		system:     req.SystemHelpers,
		engine:     engineName,
		components: make(map[string]*core.Entity),
	}
	x.mu.Lock()
	x.sessions[id] = s
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.sessions, id)
		x.mu.Unlock()
	}()

	content, err := s.evaluate(ctx, evalParams{
		engine:  eng,
		entity:  req.Template,
		set:     core.SetTemplates,
		content: req.Template.Content,
		helpers: req.Template.Helpers,
		data:    req.Data,
	})
	var logs []core.LogEntry
	if st := core.GetRequestState(stateID); st != nil {
		logs = st.Entries()
	}
	if err != nil {
		err = s.enrich(context.WithoutCancel(ctx), err, engineName, req.Template)
		x.logger.Debug("render failed",
			zap.String("request_id", id),
			zap.String("engine", engineName),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	x.logger.Debug("render finished",
		zap.String("request_id", id),
		zap.String("engine", engineName),
		zap.Int("prepared", scope.Produced()),
		zap.Duration("duration", time.Since(start)))
	return &Result{Content: content, Logs: logs, Duration: time.Since(start)}, nil
}

// Evaluate renders a nested template or component within the running
// request requestID. Errors are returned without enrichment so the caller
// can attach its own context.
func (x *Executor) Evaluate(ctx context.Context, requestID string, in EvalInput, entity *core.Entity, set string) (string, error) {
	x.mu.Lock()
	s := x.sessions[requestID]
	x.mu.Unlock()
	if s == nil {
		return "", core.ConfigurationError("request %s is not rendering", requestID)
	}
	eng, err := x.lookupEngine(in.Engine)
	if err != nil {
		return "", err
	}
	return s.evaluate(ctx, evalParams{
		engine:  eng,
		entity:  entity,
		set:     set,
		content: in.Content,
		helpers: in.Helpers,
		data:    in.Data,
	})
}

// session is the state of one request shared by all its evaluations.
type session struct {
	x       *Executor
	id      string
	ctx     context.Context
	scope   *coordinator.Scope
	stateID uint64
	system  string
	engine  string

	mu         sync.Mutex
	components map[string]*core.Entity
}

type evalParams struct {
	engine  core.Engine
	entity  *core.Entity
	set     string
	content string
	helpers string
	data    map[string]any
}

func (s *session) evaluate(ctx context.Context, p evalParams) (string, error) {
	joined := s.system + "\n" + p.helpers
	offset := strings.Count(s.system, "\n") + 1
	entityKey := p.entity.Key()
	key := coordinator.Key(p.engine.Name(), entityKey, joined)
	identity := p.engine.Name() + "\x00" + entityKey + "\x00" + joined

	prepared, first, err := s.scope.Obtain(ctx, key, identity, func(context.Context) (*core.Prepared, error) {
		if !s.x.cfg.CacheEnabled {
			s.x.cache.Reset()
		}
		spec := core.RunSpec{
			RequestID:       s.id,
			StateID:         s.stateID,
			Code:            joined,
			ErrorLineOffset: offset,
		}
		if cc, ok := p.engine.(core.ContextCreator); ok {
			spec.Seed = cc.CreateContext()
		}
		if rh, ok := p.engine.(core.RequireHandler); ok {
			seed := spec.Seed
			spec.OnRequire = func(module string) (string, bool) { return rh.OnRequire(module, seed) }
		}
		// Bindings are shared by later evaluations, so they live as long as
		// the request rather than the caller that produced them.
		return s.x.host.Prepare(s.ctx, spec)
	})
	if err != nil {
		return "", err
	}
	if first {
		s.x.logger.Debug("prepared helpers",
			zap.String("request_id", s.id),
			zap.String("entity", entityKey),
			zap.Int("helpers", len(prepared.Helpers)))
	}

	var currentPath string
	if p.entity != nil && p.entity.ShortID != "" && s.x.folders != nil {
		if path, err := s.x.folders.ResolvePath(ctx, p.entity, p.set); err == nil {
			currentPath = path
		}
	}

	compiled, err := s.x.cache.GetOrCompile(p.content, p.engine.Name(), func() (any, error) {
		return p.engine.Compile(p.content, prepared.Require)
	})
	if err != nil {
		return "", err
	}

	var failed firstError
	helpers := make(map[string]core.Helper, len(s.x.native)+len(prepared.Helpers))
	call := Call{Evaluator: Evaluator{x: s.x, requestID: s.id}, CurrentPath: currentPath, Data: p.data}
	for name, nh := range s.x.native {
		helpers[name] = failed.capture(call.bind(nh))
	}
	for name, h := range prepared.Helpers {
		helpers[name] = failed.capture(h)
	}

	b := broker.New(broker.WithConcurrency(s.x.cfg.AsyncConcurrency))
	out, err := p.engine.Execute(compiled, b.WrapAll(helpers), p.data, prepared.Require)
	if err != nil {
		// Engines flatten helper errors into text; report the original.
		if herr := failed.get(); herr != nil {
			return "", herr
		}
		return "", err
	}
	return b.Resolve(ctx, out)
}

// enrich prefixes err with the engine and template path. It works on a
// copy and never fails; unresolvable templates are reported as anonymous.
func (s *session) enrich(ctx context.Context, err error, engineName string, tpl *core.Entity) error {
	e := core.AsError(err)
	if e.Kind == core.KindHelper && errors.Is(err, context.DeadlineExceeded) {
		e.Kind = core.KindTimeout
	}
	nested := e.Entity != nil

	path := core.AnonymousID
	if tpl != nil && tpl.ShortID != "" && s.x.folders != nil {
		if p, rerr := s.x.folders.ResolvePath(ctx, tpl, core.SetTemplates); rerr == nil {
			path = p
			if !nested {
				if found, ferr := s.x.folders.ResolveFromPath(ctx, p, core.SetTemplates, ""); ferr == nil && found != nil {
					e.Entity = found.Snapshot()
				}
			}
		}
	}

	e.Message = fmt.Sprintf("Error when evaluating engine %s for template %s\n%s", engineName, path, e.Message)
	if !nested && e.Property != core.PropertyContent {
		e.Property = core.PropertyHelpers
	}
	return e
}

// firstError records the first error returned by any helper of one
// evaluation.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) capture(h core.Helper) core.Helper {
	return func(args ...any) (any, error) {
		v, err := h(args...)
		if err != nil {
			f.mu.Lock()
			if f.err == nil {
				f.err = err
			}
			f.mu.Unlock()
		}
		return v, err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
