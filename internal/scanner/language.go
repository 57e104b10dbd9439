package scanner

import (
	"strings"
)

// languageMap maps file extensions to the languages a bundle can load.
var languageMap = map[string]string{
	".js":  "javascript",
	".mjs": "javascript",
	".cjs": "javascript",

	".css":  "css",
	".json": "json",

	".html": "html",
	".htm":  "html",

	".png":   "asset",
	".jpg":   "asset",
	".jpeg":  "asset",
	".gif":   "asset",
	".svg":   "asset",
	".webp":  "asset",
	".ico":   "asset",
	".woff":  "asset",
	".woff2": "asset",
	".ttf":   "asset",
	".txt":   "asset",
}

// DetectLanguage returns the language for a file extension, or "" when a
// bundle never loads such files.
func DetectLanguage(ext string) string {
	return languageMap[strings.ToLower(ext)]
}
