package webapi

import (
	"sync"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// Modules decides which modules helper code may require. The static set
// comes from configuration; the hook is installed per lease by the host so
// engines can answer first.
type Modules struct {
	static map[string]string

	mu   sync.Mutex
	hook func(name string) (string, bool)
}

// NewModules creates a resolver over the configured module sources.
func NewModules(static map[string]string) *Modules {
	return &Modules{static: static}
}

// SetHook installs (or clears, with nil) the per-lease resolver.
func (m *Modules) SetHook(hook func(name string) (string, bool)) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// Source returns the CommonJS source for name.
func (m *Modules) Source(name string) (string, bool) {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		if src, ok := hook(name); ok {
			return src, true
		}
	}
	src, ok := m.static[name]
	return src, ok
}

// requireJS implements a CommonJS require over __requireSource. Modules are
// evaluated once per lease and memoized.
const requireJS = `
(function() {
	var cache = {};
	globalThis.__require = function require(name) {
		name = String(name);
		if (Object.prototype.hasOwnProperty.call(cache, name)) return cache[name].exports;
		var r = JSON.parse(__requireSource(name));
		if (!r.found) throw new Error('Unsupported module in helpers: ' + name);
		var module = { exports: {} };
		cache[name] = module;
		try {
			new Function('module', 'exports', 'require', r.source)(module, module.exports, require);
		} catch (e) {
			delete cache[name];
			throw e;
		}
		return module.exports;
	};
	globalThis.__requireReset = function() { cache = {}; };
})();
`

// SetupRequire returns the setup function installing require backed by m.
func SetupRequire(m *Modules) func(rt core.JSRuntime, el *eventloop.EventLoop) error {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__requireSource", func(name string) string {
			src, ok := m.Source(name)
			return marshalJSON(map[string]any{"found": ok, "source": src})
		}); err != nil {
			return err
		}
		return rt.Eval(requireJS)
	}
}
