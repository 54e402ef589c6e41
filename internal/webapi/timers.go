package webapi

import (
	"time"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// timersJS installs setTimeout/setInterval/setImmediate and their clear
// functions. Callbacks live in globalThis.__timerCallbacks; Go only
// schedules ids.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, interval, extra) {
		if (typeof fn !== 'function') return 0;
		delay = Number(delay);
		if (!isFinite(delay) || delay < 0) delay = 0;
		var id = __timerRegister(Math.floor(delay), interval);
		globalThis.__timerCallbacks[id] = { fn: fn, args: extra, interval: interval };
		return id;
	}
	function clear(id) {
		if (typeof id !== 'number') return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, false, Array.prototype.slice.call(arguments, 2));
	};
	globalThis.setInterval = function(fn, delay) {
		return schedule(fn, delay, true, Array.prototype.slice.call(arguments, 2));
	};
	globalThis.setImmediate = function(fn) {
		return schedule(fn, 0, false, Array.prototype.slice.call(arguments, 1));
	};
	globalThis.clearTimeout = globalThis.clearInterval = globalThis.clearImmediate = clear;
})();
`

// SetupTimers registers Go-backed timers on el.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
