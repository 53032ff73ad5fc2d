package categories

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSanitizeName covers the documented mapping plus idempotence.
func TestSanitizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Getting Started!", "Getting_Started"},
		{"A/B Test", "AB_Test"},
		{"Billing", "Billing"},
		{"FAQ & Troubleshooting", "FAQ__Troubleshooting"},
		{"release-notes_2024", "release-notes_2024"},
		{"///", ""},
		{"", ""},
	}
	for _, tc := range cases {
		got := SanitizeName(tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
		require.Equal(t, got, SanitizeName(got), "sanitization not idempotent for %q", tc.in)
	}
}

// TestFrontMatter checks the exact block layout the site generator expects.
func TestFrontMatter(t *testing.T) {
	t.Parallel()

	require.Equal(t, "---\ntitle: \"Billing\"\n---\n\n", FrontMatter("Billing"))
}
