package sandbox

// prelude runs in every fresh runtime after the Go bindings are installed.
// It defines the error classes bindings throw and the helpers that are
// simpler to express in script than through the Go bridge.
const prelude = `
class PermissionError extends Error {
	constructor(message) { super(message); this.name = "PermissionError"; }
}
class ProviderError extends Error {
	constructor(message) { super(message); this.name = "ProviderError"; }
}

var json = {
	dumps: function (value, indent) { return JSON.stringify(value, null, indent); },
	loads: function (text) { return JSON.parse(text); },
};

var asyncio = {
	sleep: function (seconds) { __sleep(seconds); return Promise.resolve(); },
	gather: function () { return Promise.all(Array.prototype.slice.call(arguments)); },
};

replicate.async_run = function (model, input) {
	try {
		return Promise.resolve(replicate.run(model, input));
	} catch (e) {
		return Promise.reject(e);
	}
};

var console = { log: print, info: print, warn: print, error: print, debug: print };

function __format(v) {
	if (typeof v === "string") return v;
	if (v === null) return "null";
	if (typeof v === "object") {
		if (typeof v.__path === "string") return v.__path;
		try {
			var s = JSON.stringify(v);
			if (s !== undefined) return s;
		} catch (e) {}
	}
	return String(v);
}
`

// resultProbe reads __result__ after a direct-mode run.
const resultProbe = `typeof __result__ === "undefined" ? undefined : __result__`

// suspendedWrapper turns a snippet into the body of an async function whose
// settled value is the snippet's __result__.
func suspendedWrapper(code string) string {
	return "(async function () {\n" + code + "\n;return typeof __result__ === \"undefined\" ? undefined : __result__;\n})()"
}
