package render

import (
	"context"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/executor"
	"github.com/cryguy/render/internal/store"
)

// Type aliases re-exporting internal types so callers can use
// render.Entity, render.Request, etc. without importing internal packages.

type Entity = core.Entity
type EntitySnapshot = core.EntitySnapshot
type LogEntry = core.LogEntry
type Error = core.Error
type ErrorKind = core.Kind
type Helper = core.Helper
type Awaitable = core.Awaitable
type Engine = core.Engine
type Importer = core.Importer
type ContextCreator = core.ContextCreator
type RequireHandler = core.RequireHandler
type Request = executor.Request
type Result = executor.Result
type EvalInput = executor.EvalInput
type NativeHelper = executor.NativeHelper
type Call = executor.Call
type Evaluator = executor.Evaluator
type Store = store.Store

// Entity sets.
const (
	SetTemplates  = core.SetTemplates
	SetComponents = core.SetComponents
)

// Error kinds.
const (
	KindCompilation   = core.KindCompilation
	KindHelper        = core.KindHelper
	KindConfiguration = core.KindConfiguration
	KindBroker        = core.KindBroker
	KindTimeout       = core.KindTimeout
)

// ErrTimeout is wrapped by errors caused by an interrupted helper.
var ErrTimeout = core.ErrTimeout

// EvaluatorFromContext returns the evaluator of the render ctx belongs to.
// Native helpers use it to render nested content within the same request.
func EvaluatorFromContext(ctx context.Context) (Evaluator, bool) {
	return executor.FromContext(ctx)
}
