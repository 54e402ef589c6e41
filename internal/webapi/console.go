package webapi

import (
	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// SetupConsole replaces globalThis.console with a Go-backed version
// that captures output into the per-request log buffer.
func SetupConsole(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__console", func(reqIDStr, level, message string) {
		core.AddLog(core.ParseReqID(reqIDStr), level, message)
	}); err != nil {
		return err
	}

	consoleJS := `
(function() {
	function format(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack || String(arg);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return '[object Object]'; }
		}
		return String(arg);
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	levels.forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var j = 0; j < arguments.length; j++) parts.push(format(arguments[j]));
			__console(String(globalThis.__requestID || ''), lvl, parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`
	return rt.Eval(consoleJS)
}

// consoleExtJS adds the console methods helper authors reach for while
// debugging a template: timers, counters, assert, table and dir.
const consoleExtJS = `
(function() {
var timers = {};
var counters = {};

console.time = function(label) {
	timers[label || 'default'] = performance.now();
};
console.timeEnd = function(label) {
	var l = label || 'default';
	if (timers[l] === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	console.log(l + ': ' + (performance.now() - timers[l]).toFixed(3) + 'ms');
	delete timers[l];
};
console.count = function(label) {
	var l = label || 'default';
	counters[l] = (counters[l] || 0) + 1;
	console.log(l + ': ' + counters[l]);
};
console.countReset = function(label) {
	counters[label || 'default'] = 0;
};
console.assert = function(cond) {
	if (cond) return;
	var rest = Array.prototype.slice.call(arguments, 1);
	console.error.apply(null, ['Assertion failed' + (rest.length ? ':' : '')].concat(rest));
};
console.table = console.dir = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.trace = function() {
	console.log.apply(null, ['Trace:'].concat(Array.prototype.slice.call(arguments)));
};
console.group = function(label) { if (label) console.log(label); };
console.groupEnd = function() {};
})();
`

// SetupConsoleExt evaluates the extended console methods polyfill.
func SetupConsoleExt(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	return rt.Eval(consoleExtJS)
}
