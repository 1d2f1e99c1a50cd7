package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty and root
		{"empty", "", ""},
		{"root", "/", ""},
		{"double_root", "//", ""},
		{"dot", ".", ""},

		// Simple paths
		{"simple", "foo", "foo"},
		{"leading_slash", "/foo", "foo"},
		{"trailing_slash", "foo/", "foo"},
		{"both_slashes", "/foo/", "foo"},

		// Nested paths
		{"two_parts", "foo/bar", "foo/bar"},
		{"two_parts_leading_slash", "/foo/bar", "foo/bar"},
		{"two_parts_trailing_slash", "/foo/bar/", "foo/bar"},
		{"three_parts", "foo/bar/baz", "foo/bar/baz"},

		// Paths with dots
		{"dot_prefix", "./foo", "foo"},
		{"dot_suffix", "foo/.", "foo"},
		{"dot_middle", "foo/./bar", "foo/bar"},
		{"dotdot_middle", "foo/../bar", "bar"},
		{"dotdot_middle_leading_slash", "/foo/../bar", "bar"},

		// Multiple slashes
		{"double_slash", "foo//bar", "foo/bar"},
		{"multiple_slashes", "/foo//bar//", "foo/bar"},
		{"many_slashes", "///foo///bar///", "foo/bar"},

		// Special cases
		{"dotdot", "..", ".."},
		{"dotdot_prefix", "../foo", "../foo"},
		{"dotdot_suffix", "foo/..", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizePath(tt.input)
			assert.Equal(t, tt.want, got, "NormalizePath(%q)", tt.input)
		})
	}
}

func TestAbsolutePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"dot", ".", "/"},
		{"simple", "docs", "/docs"},
		{"already_absolute", "/docs", "/docs"},
		{"trailing_slash", "docs/", "/docs"},
		{"nested", "docs/notes.txt", "/docs/notes.txt"},
		{"dot_segments", "./docs/../src", "/src"},
		{"collapsed_slashes", "//docs//sub/", "/docs/sub"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AbsolutePath(tt.input)
			assert.Equal(t, tt.want, got, "AbsolutePath(%q)", tt.input)
		})
	}
}
