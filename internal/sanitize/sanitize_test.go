package sanitize

import (
	"strings"
	"testing"
)

func TestProjectID(t *testing.T) {
	cases := map[string]string{
		"orto-2024":    "orto-2024",
		"UPPER case":   "upper-case",
		"Malmö Stad":   "malmo-stad",
		"":             "",
	}
	for in, want := range cases {
		if got := ProjectID(in); got != want {
			t.Errorf("ProjectID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStorageNameBasic(t *testing.T) {
	cases := map[string]string{
		"parcels":      "parcels",
		"buildings v2": "buildings_v2",
		"":             "_",
	}
	for in, want := range cases {
		if got := StorageName(in); got != want {
			t.Errorf("StorageName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStorageNameNeverTraversesPaths(t *testing.T) {
	for _, in := range []string{"../../etc/passwd", "a/../../b", "/etc/passwd", "..", "a/b/c"} {
		got := StorageName(in)
		if strings.Contains(got, "..") || strings.Contains(got, "/") {
			t.Errorf("StorageName(%q) = %q still contains a path-traversal sequence", in, got)
		}
	}
}
