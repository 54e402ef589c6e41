package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/store"
)

type evaluatorKey struct{}

// Evaluator runs nested evaluations inside one request.
type Evaluator struct {
	x         *Executor
	requestID string
}

// FromContext returns the Evaluator of the render ctx belongs to.
func FromContext(ctx context.Context) (Evaluator, bool) {
	ev, ok := ctx.Value(evaluatorKey{}).(Evaluator)
	return ev, ok
}

// RequestID is the id of the running render.
func (ev Evaluator) RequestID() string { return ev.requestID }

// Evaluate renders in as entity of set within the running render.
func (ev Evaluator) Evaluate(ctx context.Context, in EvalInput, entity *core.Entity, set string) (string, error) {
	return ev.x.Evaluate(ctx, ev.requestID, in, entity, set)
}

// Call describes the evaluation a native helper was called from.
type Call struct {
	Evaluator
	// CurrentPath is the path of the entity being evaluated, "" when it
	// has none.
	CurrentPath string
	Data        map[string]any
}

// NativeHelper is a helper implemented in Go. It always runs after the
// synchronous render pass, like an async JS helper.
type NativeHelper func(ctx context.Context, call Call, args []any) (any, error)

func (c Call) bind(h NativeHelper) core.Helper {
	return func(args ...any) (any, error) {
		return core.Defer(func(ctx context.Context) (any, error) {
			return h(ctx, c, args)
		}), nil
	}
}

// Component renders the component at path (relative to the calling
// entity) with the caller's data, or with data when given:
//
//	{{ component("./card") }}
//	{{component "/shared/card" .item}}
func Component(ctx context.Context, call Call, args []any) (any, error) {
	if len(args) == 0 {
		return nil, core.HelperError(errors.New("component helper requires path argument"))
	}
	path, ok := args[0].(string)
	if !ok || path == "" {
		return nil, core.HelperError(errors.New("component helper requires path argument"))
	}
	data := call.Data
	if len(args) > 1 && args[1] != nil {
		m, ok := asData(args[1])
		if !ok {
			return nil, core.HelperError(fmt.Errorf("component helper data argument must be an object, got %T", args[1]))
		}
		data = m
	}
	return call.x.component(ctx, call.requestID, path, call.CurrentPath, data)
}

// asData accepts any map keyed by strings, such as a pongo2.Context.
func asData(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func (x *Executor) component(ctx context.Context, requestID, path, currentPath string, data map[string]any) (string, error) {
	x.mu.Lock()
	s := x.sessions[requestID]
	x.mu.Unlock()
	if s == nil {
		return "", core.ConfigurationError("request %s is not rendering", requestID)
	}
	if x.folders == nil {
		return "", core.ConfigurationError("component helper requires an entity store")
	}

	ent, err := s.lookupComponent(ctx, path, currentPath)
	if err != nil {
		return "", err
	}
	if ent == nil {
		return "", core.HelperError(fmt.Errorf("Component %s not found", path))
	}

	engine := ent.Engine
	if engine == "" {
		engine = s.engine
	}
	out, err := x.Evaluate(ctx, requestID, EvalInput{
		Engine:  engine,
		Content: ent.Content,
		Helpers: ent.Helpers,
		Data:    data,
	}, ent, core.SetComponents)
	if err != nil {
		e := core.AsError(err)
		if e.Entity == nil {
			e.Message = fmt.Sprintf("Error when evaluating templating engine for component %s\n%s", path, e.Message)
			e.Entity = ent.Snapshot()
			if e.Property != core.PropertyContent {
				e.Property = core.PropertyHelpers
			}
		}
		return "", e
	}
	return out, nil
}

// lookupComponent resolves path once per request and caches the entity,
// misses included.
func (s *session) lookupComponent(ctx context.Context, path, currentPath string) (*core.Entity, error) {
	key := store.Resolve(path, currentPath)
	s.mu.Lock()
	ent, ok := s.components[key]
	s.mu.Unlock()
	if ok {
		return ent, nil
	}
	ent, err := s.x.folders.ResolveFromPath(ctx, path, core.SetComponents, currentPath)
	if err != nil {
		return nil, core.HelperError(fmt.Errorf("resolving component %s: %w", path, err))
	}
	s.mu.Lock()
	s.components[key] = ent
	s.mu.Unlock()
	return ent, nil
}
