package security

import (
	"strings"
	"testing"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Cam_0_2015-09-17", "Cam_0_2015-09-17"},
		{"spaces", "cam 1 (left)", "cam_1_left"},
		{"separators", "../etc/passwd", "etc_passwd"},
		{"collapses runs", "a  //  b", "a_b"},
		{"empty", "", "unknown"},
		{"only punctuation", "..//..", "unknown"},
		{"unicode", "bienenstock-ä", "bienenstock-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeName(tt.in); got != tt.want {
				t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSafeNameLength(t *testing.T) {
	got := SafeName(strings.Repeat("x", 300))
	if len(got) != maxNameLen {
		t.Errorf("len(SafeName) = %d, want %d", len(got), maxNameLen)
	}
}

func TestStemName(t *testing.T) {
	tests := map[string]string{
		"/data/hive/one.tdat":      "one",
		"two.v1.tdat":              "two.v1",
		"/data/cam 2/frames.tdat":  "frames",
		"/data/x/noext":            "noext",
		"/data/x/we ird name.tdat": "we_ird_name",
	}
	for in, want := range tests {
		if got := StemName(in); got != want {
			t.Errorf("StemName(%q) = %q, want %q", in, got, want)
		}
	}
}
