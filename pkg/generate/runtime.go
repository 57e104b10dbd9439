package generate

import (
	"strings"

	"github.com/l3aro/go-bundle/pkg/concat"
)

// Registry is the global array chunks push themselves onto.
const Registry = "self.__gbl_chunks__"

const runtimeSource = `(function () {
  var registry = (self.__gbl_chunks__ = self.__gbl_chunks__ || []);
  if (registry.require) return;
  var modules = {};
  var cache = {};
  var installed = {};
  var chunkFiles = {};
  var chunkDeps = {};
  var hasOwn = Object.prototype.hasOwnProperty;

  function __require__(id) {
    var cached = cache[id];
    if (cached !== undefined) return cached.exports;
    var factory = modules[id];
    if (factory === undefined) {
      var err = new Error("Cannot find module '" + id + "'");
      err.code = "MODULE_NOT_FOUND";
      throw err;
    }
    var module = (cache[id] = { id: id, exports: {} });
    factory.call(module.exports, module, module.exports, __require__);
    return module.exports;
  }

__HELPERS__

  __require__.m = modules;
  __require__.c = cache;
  __require__.p = __PUBLIC_PATH__;
  __require__.h = function () {
    return __HASH__;
  };
  __require__.r = function (exports) {
    if (typeof Symbol !== "undefined" && Symbol.toStringTag) {
      Object.defineProperty(exports, Symbol.toStringTag, { value: "Module" });
    }
    Object.defineProperty(exports, "__esModule", { value: true });
  };
  __require__.d = function (exports, getters) {
    for (var key in getters) {
      if (hasOwn.call(getters, key) && !hasOwn.call(exports, key)) {
        Object.defineProperty(exports, key, { enumerable: true, get: getters[key] });
      }
    }
  };
  __require__.n = function (mod) {
    return mod && mod.__esModule ? mod["default"] : mod;
  };
  __require__.w = _interop_require_wildcard;
  __require__.es = _export_star;

  function findStyle(id) {
    var styles = document.querySelectorAll("style[data-gbl-id]");
    for (var i = 0; i < styles.length; i++) {
      if (styles[i].getAttribute("data-gbl-id") === id) return styles[i];
    }
    return null;
  }
  __require__.css = function (id, css) {
    if (typeof document === "undefined") return;
    var style = findStyle(id);
    if (!style) {
      style = document.createElement("style");
      style.setAttribute("data-gbl-id", id);
      document.head.appendChild(style);
    }
    style.textContent = css;
  };

  function load(chunkId) {
    var state = installed[chunkId];
    if (state === 0) return Promise.resolve();
    if (state) return state[2];
    var promise = new Promise(function (resolve, reject) {
      state = installed[chunkId] = [resolve, reject];
    });
    state[2] = promise;
    var url = __require__.p + chunkFiles[chunkId];
    var fail = function () {
      var pending = installed[chunkId];
      delete installed[chunkId];
      if (pending) pending[1](new Error("Loading chunk " + chunkId + " failed (" + url + ")"));
    };
    if (typeof document === "undefined" && typeof importScripts === "function") {
      try {
        importScripts(url);
      } catch (e) {
        fail();
      }
    } else {
      var script = document.createElement("script");
      script.src = url;
      script.onerror = fail;
      document.head.appendChild(script);
    }
    return promise;
  }
  __require__.ensure = function (chunkId) {
    var deps = chunkDeps[chunkId] || [];
    return Promise.all(deps.concat([chunkId]).map(load));
  };

  function push(data) {
    var chunkIds = data[0];
    var more = data[1];
    var run = data[2];
    var manifest = data[3];
    if (manifest) {
      for (var file in manifest.files) {
        if (hasOwn.call(manifest.files, file)) chunkFiles[file] = manifest.files[file];
      }
      for (var dep in manifest.deps) {
        if (hasOwn.call(manifest.deps, dep)) chunkDeps[dep] = manifest.deps[dep];
      }
    }
    for (var id in more) {
      if (hasOwn.call(more, id)) modules[id] = more[id];
    }
    for (var i = 0; i < chunkIds.length; i++) {
      var state = installed[chunkIds[i]];
      installed[chunkIds[i]] = 0;
      if (state) state[0]();
    }
    if (run) run(__require__);
  }

  registry.require = __require__;
  var pending = registry.slice();
  registry.push = push;
  for (var j = 0; j < pending.length; j++) push(pending[j]);
__HMR__})();
`

const hmrSource = `
  if (typeof WebSocket !== "undefined" && typeof location !== "undefined") {
    var hash = __HASH__;
    var hmrURL = __HMR_URL__ || (location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/__hmr";
    var socket = new WebSocket(hmrURL);
    socket.onmessage = function (event) {
      var update = JSON.parse(event.data);
      if (update.hash === hash) return;
      hash = update.hash;
      if (update.reload) {
        location.reload();
        return;
      }
      var removed = update.removed || [];
      for (var r = 0; r < removed.length; r++) {
        delete modules[removed[r]];
        delete cache[removed[r]];
        var style = typeof document !== "undefined" && findStyle(removed[r]);
        if (style) style.parentNode.removeChild(style);
      }
      var ids = Object.keys(update.modules || {});
      for (var k = 0; k < ids.length; k++) {
        modules[ids[k]] = (0, eval)("(" + update.modules[ids[k]].body + ")");
        delete cache[ids[k]];
      }
      for (var n = 0; n < ids.length; n++) __require__(ids[n]);
    };
  }
`

// Runtime returns the module runtime. It installs itself once per global
// and replays chunks pushed before it loaded.
func (g *Generator) Runtime(hash string) string {
	hmr := ""
	if g.opts.HMR {
		hmr = strings.NewReplacer("__HMR_URL__", quote(g.opts.HMRURL), "__HASH__", quote(hash)).Replace(hmrSource)
	}
	return strings.NewReplacer(
		"__HELPERS__", indent(concat.AllHelpers(), "  "),
		"__PUBLIC_PATH__", quote(g.opts.PublicPath),
		"__HASH__", quote(hash),
		"__HMR__", hmr,
	).Replace(runtimeSource)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
