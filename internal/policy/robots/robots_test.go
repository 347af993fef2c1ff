package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		UserAgent:  "SeedbankCrawler/1.0",
		MinDelay:   1000 * time.Millisecond,
		MaxDelay:   2500 * time.Millisecond,
		MaxBackoff: 60 * time.Second,
	}
}

func TestLoaderAppliesRules(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprintln(w, "User-agent: *\nDisallow: /wp-admin/\nAllow: /wp-admin/admin-ajax.php\nCrawl-delay: 2")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy := NewLoader(srv.Client(), testOptions(), zap.NewNop()).Load(context.Background(), srv.URL)

	require.True(t, policy.IsAllowed(srv.URL+"/shop/page/2/"))
	require.False(t, policy.IsAllowed(srv.URL+"/wp-admin/options.php"))
	require.True(t, policy.IsAllowed(srv.URL+"/wp-admin/admin-ajax.php"))
	require.True(t, policy.HasExplicitDelay())
	require.Equal(t, 2*time.Second, policy.CrawlDelay())
	require.Equal(t, 2*time.Second, policy.Delay())
	require.Equal(t, []string{"/wp-admin/"}, policy.DisallowedPaths())
	require.Equal(t, []string{"/wp-admin/admin-ajax.php"}, policy.AllowedPaths())
}

func TestLoaderFallsBackOnMissingRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	policy := NewLoader(srv.Client(), testOptions(), zap.NewNop()).Load(context.Background(), srv.URL)

	require.False(t, policy.HasExplicitDelay())
	require.Empty(t, policy.DisallowedPaths())
	require.True(t, policy.IsAllowed(srv.URL+"/anything"))
	for range 20 {
		d := policy.Delay()
		require.GreaterOrEqual(t, d, 1000*time.Millisecond)
		require.Less(t, d, 2500*time.Millisecond)
	}
}

func TestLoaderFallsBackOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	policy := NewLoader(srv.Client(), testOptions(), zap.NewNop()).Load(context.Background(), srv.URL)
	require.True(t, policy.IsAllowed(srv.URL+"/shop/"))
	require.False(t, policy.HasExplicitDelay())
}

func TestParsePrefersSpecificAgentGroup(t *testing.T) {
	t.Parallel()

	body := []byte("User-agent: *\nDisallow: /\n\nUser-agent: seedbankcrawler\nDisallow: /cart/\n")
	policy, err := Parse(http.StatusOK, body, testOptions())
	require.NoError(t, err)

	require.True(t, policy.IsAllowed("https://example.com/shop/"))
	require.False(t, policy.IsAllowed("https://example.com/cart/"))
	require.Equal(t, []string{"/cart/"}, policy.DisallowedPaths())
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	policy := Default(testOptions())
	for _, status := range []int{429, 500, 502, 503, 504} {
		require.True(t, policy.ShouldRetry(status), "status %d", status)
	}
	for _, status := range []int{200, 401, 403, 404} {
		require.False(t, policy.ShouldRetry(status), "status %d", status)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	policy := Default(testOptions())
	require.Equal(t, 3*time.Second, policy.BackoffDelay(429, 1))
	require.Equal(t, 6*time.Second, policy.BackoffDelay(429, 2))
	require.Equal(t, 4*time.Second, policy.BackoffDelay(503, 2))
	require.Equal(t, 1500*time.Millisecond, policy.BackoffDelay(502, 1))
	require.Equal(t, 60*time.Second, policy.BackoffDelay(429, 10))

	explicit, err := Parse(http.StatusOK, []byte("User-agent: *\nCrawl-delay: 5\n"), testOptions())
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, explicit.BackoffDelay(503, 1))
}
