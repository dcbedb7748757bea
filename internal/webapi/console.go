package webapi

import (
	"github.com/cryguy/nexo/internal/core"
)

// SetupConsole installs a Go-backed globalThis.console that appends every
// call to the run's log buffer instead of a shared stream.
func SetupConsole(rt core.JSRuntime, logs *core.LogBuffer) error {
	if err := rt.RegisterFunc("__console", func(level, message string) {
		logs.Add(level, message)
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}

const consoleJS = `
(function() {
	var sink = globalThis.__console;
	delete globalThis.__console;
	function fmt(arg) {
		if (typeof arg === 'string') return arg;
		try {
			return String(arg);
		} catch (e) {
			return '[object Object]';
		}
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) {
					parts.push(fmt(arguments[j]));
				}
				sink(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	Object.freeze(con);
	Object.defineProperty(globalThis, 'console', {
		value: con, writable: false, configurable: false, enumerable: false
	});
})();
`
