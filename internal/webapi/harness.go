package webapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cryguy/nexo/internal/core"
)

// harnessPrologue builds the request, env and ctx bindings from
// __REQUEST__ and opens the scope the user code is embedded into.
const harnessPrologue = `
var __b = (function(R) {
	var envData = {};
	var src = R.env || {};
	for (var k in src) {
		if (Object.prototype.hasOwnProperty.call(src, k)) envData[k] = String(src[k]);
	}
	var env = Object.freeze({
		get: function(key) {
			return Object.prototype.hasOwnProperty.call(envData, key) ? envData[key] : undefined;
		},
		has: function(key) {
			return Object.prototype.hasOwnProperty.call(envData, key);
		},
		keys: function() {
			return Object.keys(envData);
		}
	});
	var request = Object.freeze({
		url: R.url || '',
		method: R.method || 'GET',
		headers: Object.freeze(Object.assign({}, R.headers || {})),
		body: (R.body === undefined || R.body === null) ? null : R.body,
		params: Object.freeze(Object.assign({}, R.path_params || {})),
		query: Object.freeze(Object.assign({}, R.query_params || {})),
		json: function() {
			return this.body ? JSON.parse(this.body) : null;
		},
		text: function() {
			return this.body === null ? '' : String(this.body);
		}
	});
	return { request: request, env: env, ctx: Object.freeze({ env: env }) };
})(__REQUEST__);
var __entry = (function(request, env, ctx) {
`

// harnessEpilogue closes the user scope, picks the entry point and
// serializes the outcome as a tagged envelope string.
const harnessEpilogue = `
;return {
		handler: typeof handler === 'function' ? handler : undefined,
		main: typeof main === 'function' ? main : undefined
	};
})(__b.request, __b.env, __b.ctx);
var __result;
if (__entry.handler) {
	__result = __entry.handler(__b.request, __b.ctx);
} else if (__entry.main) {
	__result = __entry.main(__b.request);
} else {
	return '{"kind":"none"}';
}
if (__result !== null && (typeof __result === 'object' || typeof __result === 'function') &&
		typeof __result.then === 'function') {
	return '{"kind":"async"}';
}
if (__result && __result._isResponse) {
	return JSON.stringify({
		kind: 'response',
		body: __result.body === undefined ? null : __result.body,
		status: __result.status,
		statusText: __result.statusText,
		headers: __result.headers
	});
}
var __encoded = JSON.stringify(__result);
return '{"kind":"value","value":' + (__encoded === undefined ? 'null' : __encoded) + '}';
`

// HarnessBody returns the generated wrapper around user code as the body
// of a function. Evaluating it yields a JSON envelope string.
func HarnessBody(code string) string {
	var b strings.Builder
	b.Grow(len(harnessPrologue) + len(code) + len(harnessEpilogue) + 2)
	b.WriteString(harnessPrologue)
	b.WriteString(code)
	// A trailing line comment in user code must not swallow the epilogue.
	b.WriteString("\n")
	b.WriteString(harnessEpilogue)
	return b.String()
}

// HarnessScript returns the wrapper as a self-invoking script.
func HarnessScript(code string) string {
	return "(function() {\n" + HarnessBody(code) + "\n})()"
}

// HarnessFunctionScript returns a script that only compiles the wrapper
// into globalThis.__harness without running it. Engines without a
// separate compile step use it to tell syntax errors apart from throws.
func HarnessFunctionScript(code string) string {
	return "globalThis.__harness = new Function(" + jsString(HarnessBody(code)) + ");"
}

// jsString quotes s as a JavaScript string literal. JSON string syntax is
// a subset of it, and encoding/json escapes U+2028 and U+2029.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type envelope struct {
	Kind       string          `json:"kind"`
	Value      json.RawMessage `json:"value"`
	Body       json.RawMessage `json:"body"`
	Status     int             `json:"status"`
	StatusText string          `json:"statusText"`
	Headers    json.RawMessage `json:"headers"`
}

// DecodeResult converts the harness envelope into a tagged Output.
// maxBytes caps the envelope size; zero disables the cap.
func DecodeResult(raw string, maxBytes int) (*core.Output, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return nil, core.NewSandboxError(core.KindRuntime, "Output exceeds %d byte limit", maxBytes)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, core.NewSandboxError(core.KindRuntime, "Malformed handler output: %v", err)
	}
	switch env.Kind {
	case "none":
		return core.NullOutput(), nil
	case "async":
		return nil, core.NewSandboxError(core.KindUnsupportedAsync, "%s", core.AsyncUnsupportedMessage)
	case "value":
		return core.ValueOutput(env.Value), nil
	case "response":
		status := env.Status
		if status == 0 {
			status = 200
		}
		body := env.Body
		if len(body) == 0 {
			body = json.RawMessage("null")
		}
		headers, err := decodeHeaders(env.Headers)
		if err != nil {
			return nil, err
		}
		return &core.Output{
			Kind: core.OutputResponse,
			Response: &core.ResponseShape{
				Body:       body,
				Status:     status,
				StatusText: env.StatusText,
				Headers:    headers,
			},
		}, nil
	}
	return nil, core.NewSandboxError(core.KindRuntime, "Malformed handler output: unknown kind %q", env.Kind)
}

// decodeHeaders accepts response headers as an object or as a list of
// [name, value] pairs. Later pairs win.
func decodeHeaders(raw json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]string{}, nil
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, core.NewSandboxError(core.KindRuntime, "Invalid response headers: %v", err)
		}
		return stringHeaders(obj), nil
	case '[':
		var pairs [][]any
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, core.NewSandboxError(core.KindRuntime, "Invalid response headers: expected [name, value] pairs")
		}
		out := make(map[string]any, len(pairs))
		for i, pair := range pairs {
			name, ok := pairOf(pair)
			if !ok {
				return nil, core.NewSandboxError(core.KindRuntime, "Invalid response headers: entry %d is not a [name, value] pair", i)
			}
			out[name] = pair[1]
		}
		return stringHeaders(out), nil
	}
	return nil, core.NewSandboxError(core.KindRuntime, "Invalid response headers: expected an object or [name, value] pairs")
}

func pairOf(pair []any) (string, bool) {
	if len(pair) != 2 {
		return "", false
	}
	name, ok := pair[0].(string)
	return name, ok && name != ""
}

func stringHeaders(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}
