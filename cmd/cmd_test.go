package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/config"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/server"
)

const listing = `<html><body><ul class="products"><li class="product">
<h2 class="product-title"><a href="/product/gelato-33-feminized/">Gelato 33 Feminized</a></h2>
<input class="product_variation_radio" item-price="65.00" value="5-seeds">
</li></ul></body></html>`

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(listing)}, nil
}

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`
scheduler:
  enabled: false
reconciler:
  enabled: false
vendors:
  - id: v1
    name: Vendor One
    base_url: %s
    adapter: vancouverseedbank
    active: true
    sources:
      - path: /shop
        max_pages: 1
`, baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCrawlCommandRunsVendor(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	defer site.Close()

	prev := buildApp
	buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		return server.Build(ctx, cfg, server.Options{
			Logger:     zap.NewNop(),
			Registerer: prometheus.NewRegistry(),
			Fetcher:    stubFetcher{},
			HTTPClient: site.Client(),
			Pauser:     noPause{},
		})
	}
	t.Cleanup(func() { buildApp = prev })

	out, err := execute(t, "--config", writeConfig(t, site.URL), "crawl", "--vendor", "v1", "--mode", "test")
	require.NoError(t, err)
	require.Contains(t, out, "COMPLETED")
	require.Contains(t, out, "v1")
}

func TestCrawlOptionsRequest(t *testing.T) {
	t.Parallel()

	_, err := crawlOptions{mode: "manual"}.request()
	require.ErrorContains(t, err, "--vendor")

	_, err = crawlOptions{vendorID: "v1", mode: "sometimes"}.request()
	require.Error(t, err)

	_, err = crawlOptions{vendorID: "v1", mode: "manual", startPage: 4, endPage: 2}.request()
	require.Error(t, err)

	req, err := crawlOptions{vendorID: "v1", mode: "manual", startPage: 2, endPage: 3, fullSite: true}.request()
	require.NoError(t, err)
	require.Equal(t, 2, *req.Config.StartPage)
	require.Equal(t, 3, *req.Config.EndPage)
	require.True(t, req.Config.FullSiteCrawl)

	req, err = crawlOptions{vendorID: "v1", mode: "test"}.request()
	require.NoError(t, err)
	require.Nil(t, req.Config.StartPage)
	require.Nil(t, req.Config.EndPage)
}

func TestJobFilter(t *testing.T) {
	t.Parallel()

	filter, err := jobFilter("v1", "waiting, active", 10)
	require.NoError(t, err)
	require.Equal(t, []crawler.JobStatus{crawler.JobStatusWaiting, crawler.JobStatusActive}, filter.Statuses)
	require.Equal(t, "v1", filter.VendorID)

	filter, err = jobFilter("", "", 5)
	require.NoError(t, err)
	require.Empty(t, filter.Statuses)

	_, err = jobFilter("", "PAUSED", 5)
	require.ErrorContains(t, err, "PAUSED")

	_, err = jobFilter("", "", 0)
	require.Error(t, err)
}

func TestRenderJobs(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	renderJobs(&out, []crawler.CrawlJob{{
		JobID:        "manual_v1_1717243200000_ab12",
		VendorID:     "v1",
		Mode:         crawler.JobModeManual,
		Status:       crawler.JobStatusFailed,
		Counters:     crawler.JobCounters{PagesVisited: 2, TotalPages: 5, ProductsScraped: 24},
		CreatedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		ErrorMessage: "auth fetch (status 403)",
	}})
	text := out.String()
	require.Contains(t, text, "manual_v1_1717243200000_ab12")
	require.Contains(t, text, "2/5")
	require.Contains(t, text, "FAILED")
	require.Contains(t, text, "2024-06-01 12:00:00")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	_, err := execute(t, "migrate", "sideways")
	require.ErrorContains(t, err, "sideways")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.ErrorContains(t, err, "db.dsn")
}
