package runner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrentVisitTracker(t *testing.T) {
	t.Parallel()

	tracker := newConcurrentVisitTracker()
	require.True(t, tracker.MarkIfNew("https://example.org/product/a/"))
	require.False(t, tracker.MarkIfNew("https://example.org/product/a/"))
	require.True(t, tracker.MarkIfNew("https://example.org/product/b/"))
	require.False(t, tracker.MarkIfNew(""))
}
