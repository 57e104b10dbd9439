package concat

import "strings"

// InteropFlags records which kinds of cross-module access a concatenated
// group performs on modules left outside of it.
type InteropFlags uint8

const (
	InteropDefault   InteropFlags = 1
	InteropNamed     InteropFlags = 1 << 2
	InteropExportAll InteropFlags = 1 << 3
	InteropNamespace InteropFlags = 1 << 4
)

// Has reports whether every bit of other is set.
func (f InteropFlags) Has(other InteropFlags) bool {
	return f&other == other
}

const (
	HelperInteropDefault  = "_interop_require_default"
	HelperInteropWildcard = "_interop_require_wildcard"
	HelperExportStar      = "_export_star"
)

var helperSources = map[string]string{
	HelperInteropDefault: `function _interop_require_default(obj) {
  return obj && obj.__esModule ? obj : { default: obj };
}`,
	HelperInteropWildcard: `function _interop_require_wildcard(obj) {
  if (obj && obj.__esModule) return obj;
  var ns = { default: obj };
  if (obj != null && (typeof obj === "object" || typeof obj === "function")) {
    for (var key in obj) {
      if (key !== "default" && Object.prototype.hasOwnProperty.call(obj, key)) ns[key] = obj[key];
    }
  }
  return ns;
}`,
	HelperExportStar: `function _export_star(from, to) {
  Object.keys(from).forEach(function (key) {
    if (key !== "default" && !Object.prototype.hasOwnProperty.call(to, key)) {
      Object.defineProperty(to, key, { enumerable: true, get: function () { return from[key]; } });
    }
  });
  return from;
}`,
}

// HelperNames returns the helpers flags needs, in a fixed order.
func HelperNames(flags InteropFlags) []string {
	var names []string
	if flags.Has(InteropDefault) {
		names = append(names, HelperInteropDefault)
	}
	if flags.Has(InteropNamespace) {
		names = append(names, HelperInteropWildcard)
	}
	if flags.Has(InteropExportAll) {
		names = append(names, HelperExportStar)
	}
	return names
}

// Helpers returns the source of the helpers flags needs.
func Helpers(flags InteropFlags) string {
	var parts []string
	for _, name := range HelperNames(flags) {
		parts = append(parts, helperSources[name])
	}
	return strings.Join(parts, "\n")
}

// AllHelpers returns every helper. The runtime embeds them.
func AllHelpers() string {
	return Helpers(InteropDefault | InteropNamed | InteropExportAll | InteropNamespace)
}
