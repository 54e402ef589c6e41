package render

import (
	"go.uber.org/zap"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/store"
)

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	store   store.Store
	engines []core.Engine
	helpers map[string]NativeHelper
	factory core.VMFactory
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore sets the entity store used for template paths and the
// component helper. Without one, Config.Store.Path decides: a SQLite file,
// or an in-memory store when empty.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithEngine registers an additional engine adapter.
func WithEngine(e Engine) Option {
	return func(o *options) { o.engines = append(o.engines, e) }
}

// WithHelper adds a native Go helper available to every template.
func WithHelper(name string, h NativeHelper) Option {
	return func(o *options) {
		if o.helpers == nil {
			o.helpers = make(map[string]NativeHelper)
		}
		o.helpers[name] = h
	}
}

// withVMFactory swaps the JS backend; tests use it to count VMs.
func withVMFactory(f core.VMFactory) Option {
	return func(o *options) { o.factory = f }
}
