package webapi

import "github.com/cryguy/nexo/internal/core"

// responseJS defines the minimal Response helper. Instances carry the
// _isResponse marker the harness looks for when shaping the result.
const responseJS = `
(function() {
	function headerObject(h) {
		if (!Array.isArray(h)) return h || {};
		var out = {};
		for (var i = 0; i < h.length; i++) {
			if (Array.isArray(h[i]) && h[i].length === 2) out[h[i][0]] = h[i][1];
		}
		return out;
	}
	class Response {
		constructor(body, options) {
			options = options || {};
			this.body = body === undefined ? null : body;
			this.status = options.status || 200;
			this.statusText = options.statusText || 'OK';
			this.headers = headerObject(options.headers);
			this._isResponse = true;
		}
		text() {
			if (typeof this.body === 'string') return this.body;
			return this.body === null ? '' : JSON.stringify(this.body);
		}
		json() {
			return typeof this.body === 'string' ? JSON.parse(this.body) : this.body;
		}
		static json(data, options) {
			options = options || {};
			var headers = Object.assign({'content-type': 'application/json'}, headerObject(options.headers));
			return new Response(data, {status: options.status, statusText: options.statusText, headers: headers});
		}
	}
	globalThis.Response = Response;
})();
`

// SetupResponse installs the Response helper class.
func SetupResponse(rt core.JSRuntime, _ *core.LogBuffer) error {
	return rt.Eval(responseJS)
}
