package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// globalsJS defines the small set of globals helper code commonly expects.
const globalsJS = `
globalThis.queueMicrotask = function(fn) {
	Promise.resolve().then(fn);
};

globalThis.performance = {
	now: function() { return __performanceNow(); }
};

globalThis.structuredClone = (function() {
	function clone(value, seen) {
		if (value === null || typeof value !== 'object') {
			if (typeof value === 'function' || typeof value === 'symbol') {
				throw new TypeError('value could not be cloned');
			}
			return value;
		}
		if (seen.has(value)) return seen.get(value);
		var out;
		if (value instanceof Date) return new Date(value.getTime());
		if (value instanceof RegExp) return new RegExp(value.source, value.flags);
		if (value instanceof Map) {
			out = new Map();
			seen.set(value, out);
			value.forEach(function(v, k) { out.set(clone(k, seen), clone(v, seen)); });
			return out;
		}
		if (value instanceof Set) {
			out = new Set();
			seen.set(value, out);
			value.forEach(function(v) { out.add(clone(v, seen)); });
			return out;
		}
		out = Array.isArray(value) ? [] : {};
		seen.set(value, out);
		Object.keys(value).forEach(function(k) { out[k] = clone(value[k], seen); });
		return out;
	}
	return function structuredClone(value) {
		return clone(value, new Map());
	};
})();
`

// SetupGlobals registers queueMicrotask, performance.now() and
// structuredClone.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	startTime := time.Now()
	if err := rt.RegisterFunc("__performanceNow", func() float64 {
		return float64(time.Since(startTime).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals.js: %w", err)
	}
	return nil
}
