// Package sanitize normalizes the handful of user-supplied strings that end
// up as path segments on disk: project ids and layer/theme storage names.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var nonIDChar = regexp.MustCompile(`[^a-z0-9_-]+`)
var nonStorageChar = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ProjectID folds s through NFKD normalization, lower-cases it, and
// replaces every run of characters outside [a-z0-9_-] with "-". It is the
// only transform allowed between an
// externally supplied project identifier and a path under cache/.
func ProjectID(s string) string {
	folded := norm.NFKD.String(s)
	folded = stripCombining(folded)
	folded = strings.ToLower(folded)
	return nonIDChar.ReplaceAllString(folded, "-")
}

func stripCombining(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StorageName maps a layer or theme name to the directory component used
// under cache/<project>/ or cache/<project>/_themes/. Non-alphanumeric
// characters (outside "._-") become "_"; the result never contains "/" or
// "..", so it can never escape the cache root.
func StorageName(name string) string {
	if name == "" {
		return "_"
	}
	out := nonStorageChar.ReplaceAllString(name, "_")
	out = strings.ReplaceAll(out, "..", "_")
	out = strings.TrimLeft(out, "/")
	if out == "" {
		return "_"
	}
	return out
}
