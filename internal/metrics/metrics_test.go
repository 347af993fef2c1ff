package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://VancouverSeedBank.ca/shop", "vancouverseedbank.ca"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	ObservePage("sunwest", "ok", 2048)
	ObserveProducts("sunwest", "scraped", 12)
	ObserveProducts("sunwest", "saved", 0)
	ObservePriceChanges("sunwest", 3)
	ObserveNotificationJobs(2)
	ObserveReconcile("CANCELLED")
	ObserveRateLimitDelay("example.com", 250*time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("sunwest", "ok")))
	require.Equal(t, float64(2048), testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("sunwest")))
	require.Equal(t, float64(12), testutil.ToFloat64(crawlerProductsTotal.WithLabelValues("sunwest", "scraped")))
	require.Equal(t, float64(0), testutil.ToFloat64(crawlerProductsTotal.WithLabelValues("sunwest", "saved")))
	require.Equal(t, float64(3), testutil.ToFloat64(priceChangesTotal.WithLabelValues("sunwest")))
	require.Equal(t, float64(1), testutil.ToFloat64(reconcilerActionsTotal.WithLabelValues("CANCELLED")))
	require.Positive(t, testutil.CollectAndCount(crawlerRateLimitDelaysSeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://sunwestgenetics.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
