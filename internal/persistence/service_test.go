package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var scrapedAt = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Catalog, *memory.CrawlLog) {
	t.Helper()
	catalog := memory.NewCatalog()
	logs := memory.NewCrawlLog()
	svc, err := New(catalog, logs, fixedClock{t: scrapedAt}, zap.NewNop())
	require.NoError(t, err)
	return svc, catalog, logs
}

func product(name, url string, prices ...float64) crawler.Product {
	p := crawler.Product{Name: name, URL: url, Slug: name}
	for i, price := range prices {
		pack := (i + 1) * 5
		p.Variants = append(p.Variants, crawler.PriceVariant{PackSize: pack, TotalPrice: price, PricePerSeed: price / float64(pack)})
	}
	return p
}

func TestSaveProductsCountsCreatesUpdatesAndErrors(t *testing.T) {
	t.Parallel()

	svc, catalog, _ := newService(t)
	ctx := context.Background()
	vendor := crawler.Vendor{ID: "v1", Name: "Vendor One", BaseURL: "https://v1.example"}

	vendorID, err := svc.UpsertVendor(ctx, vendor)
	require.NoError(t, err)
	stored, err := catalog.GetVendor(ctx, vendorID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastScraped)
	require.Equal(t, scrapedAt, *stored.LastScraped)

	catID, err := svc.UpsertCategory(ctx, vendorID, DefaultCategoryName, DefaultCategorySlug)
	require.NoError(t, err)
	again, err := svc.UpsertCategory(ctx, vendorID, DefaultCategoryName, DefaultCategorySlug)
	require.NoError(t, err)
	require.Equal(t, catID, again)

	first, err := svc.SaveProducts(ctx, catID, []crawler.Product{
		product("gelato", "https://v1.example/p/gelato/", 65, 120),
		product("runtz", "https://v1.example/p/runtz/", 50),
	})
	require.NoError(t, err)
	require.Equal(t, 2, first.Saved)
	require.Zero(t, first.Updated)

	catalog.FailSaveFor("https://v1.example/p/zkittlez/", errors.New("constraint violation"))
	second, err := svc.SaveProducts(ctx, catID, []crawler.Product{
		product("gelato", "https://v1.example/p/gelato/", 60),
		product("zkittlez", "https://v1.example/p/zkittlez/", 40),
		product("mimosa", "https://v1.example/p/mimosa/", 45),
	})
	require.NoError(t, err)
	require.Equal(t, 1, second.Saved)
	require.Equal(t, 1, second.Updated)
	require.Equal(t, 1, second.Errors)
	require.LessOrEqual(t, second.Saved+second.Updated+second.Errors, 3)
	require.Equal(t, first.ProductIDs["https://v1.example/p/gelato/"], second.ProductIDs["https://v1.example/p/gelato/"])

	// Variants are replaced wholesale.
	gelato, ok := catalog.Product(second.ProductIDs["https://v1.example/p/gelato/"])
	require.True(t, ok)
	require.Len(t, gelato.Variants, 1)

	ids, err := svc.ResolveProductIDs(ctx, vendorID, []string{"https://v1.example/p/runtz/", "https://v1.example/p/unknown/"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, first.ProductIDs["https://v1.example/p/runtz/"], ids["https://v1.example/p/runtz/"])
}

func TestSaveProductsStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.SaveProducts(ctx, "cat", []crawler.Product{product("a", "https://x/a/", 1)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLogCrawlStampsCreatedAt(t *testing.T) {
	t.Parallel()

	svc, _, logs := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.LogCrawl(ctx, crawler.CrawlLogEntry{VendorID: "v1", Status: crawler.CrawlLogSuccess, ProductsFound: 3}))

	entries, err := logs.ListCrawlLogs(ctx, "v1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, scrapedAt, entries[0].CreatedAt)
}

type failingStore struct{ Store }

func (failingStore) UpsertVendor(context.Context, crawler.Vendor, time.Time) (string, error) {
	return "", errors.New("db down")
}

func TestUpsertVendorClassifiesPersistenceErrors(t *testing.T) {
	t.Parallel()

	svc, err := New(failingStore{}, memory.NewCrawlLog(), nil, nil)
	require.NoError(t, err)
	_, err = svc.UpsertVendor(context.Background(), crawler.Vendor{ID: "v1"})
	require.Error(t, err)
	require.Equal(t, crawler.KindPersistence, crawler.KindOf(err))
}
