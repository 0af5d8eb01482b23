package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlocklistRegexMatch(t *testing.T) {
	t.Parallel()

	bl := NewBlocklist([]string{`/private(/|$)`, `\.internal\.`})
	require.True(t, bl.Blocked("https://example.com/private"))
	require.True(t, bl.Blocked("https://example.com/private/reports"))
	require.True(t, bl.Blocked("https://api.internal.example.com/x"))
	require.False(t, bl.Blocked("https://example.com/privately-held"))
	require.False(t, bl.Blocked("https://example.com/public"))
}

func TestBlocklistInvalidPatternFallsBackToSubstring(t *testing.T) {
	t.Parallel()

	// "[invalid" does not compile as a regex, so it must match literally.
	bl := NewBlocklist([]string{"[invalid"})
	require.True(t, bl.Blocked("https://example.com/[invalid/page"))
	require.False(t, bl.Blocked("https://example.com/invalid"))
}

func TestBlocklistEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, NewBlocklist(nil).Empty())
	require.True(t, NewBlocklist([]string{"", ""}).Empty())
	require.False(t, NewBlocklist([]string{"x"}).Empty())

	var nilList *Blocklist
	require.True(t, nilList.Empty())
	require.False(t, nilList.Blocked("https://example.com"))
}
