package webapi

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/nexo/internal/core"
)

// SetupFunc installs part of the sandbox global surface into a fresh
// runtime. The log buffer belongs to the run being set up.
type SetupFunc func(rt core.JSRuntime, logs *core.LogBuffer) error

// SandboxSetup lists, in order, everything injected into a sandbox before
// user code runs. Nothing else is exposed to user code.
var SandboxSetup = []SetupFunc{
	SetupLockdown,
	SetupConsole,
	SetupResponse,
}

// SetupSandbox runs every SandboxSetup function against rt.
func SetupSandbox(rt core.JSRuntime, logs *core.LogBuffer) error {
	for _, setup := range SandboxSetup {
		if err := setup(rt, logs); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

// lockdownJS deletes host capabilities some engine builds attach to the
// global object. None of them may be reachable from user code.
const lockdownJS = `
(function() {
	var names = ['std', 'os', 'print', 'scriptArgs', 'setTimeout', 'setInterval',
		'clearTimeout', 'clearInterval', 'setImmediate', 'queueMicrotask', 'fetch',
		'XMLHttpRequest', 'WebSocket', 'require', 'process', 'Deno', 'Bun', 'load', 'read', 'readbuffer', 'quit'];
	for (var i = 0; i < names.length; i++) {
		try { delete globalThis[names[i]]; } catch (e) {}
	}
})();
`

// SetupLockdown strips host capabilities from the global object.
func SetupLockdown(rt core.JSRuntime, _ *core.LogBuffer) error {
	return rt.Eval(lockdownJS)
}

// InjectRequest exposes the structured request payload as the read-only
// global __REQUEST__. Empty or malformed payloads become an empty object.
func InjectRequest(rt core.JSRuntime, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	if err := rt.SetGlobal("__tmp_request_json", string(payload)); err != nil {
		return fmt.Errorf("storing request payload: %w", err)
	}
	return rt.Eval(`(function() {
		var raw = globalThis.__tmp_request_json;
		delete globalThis.__tmp_request_json;
		var req;
		try { req = JSON.parse(raw); } catch (e) { req = {}; }
		if (req === null || typeof req !== 'object') req = {};
		Object.defineProperty(globalThis, '__REQUEST__', {
			value: req, writable: false, configurable: false, enumerable: false
		});
	})()`)
}
