package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

func TestCatalogProductUpsertAndPrices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := NewCatalog(crawler.Vendor{ID: "v1", Name: "Old Name", BaseURL: "https://v1.example", Active: true})

	scraped := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	vendorID, err := catalog.UpsertVendor(ctx, crawler.Vendor{ID: "v1", Name: "New Name", BaseURL: "https://v1.example"}, scraped)
	require.NoError(t, err)
	v, err := catalog.GetVendor(ctx, vendorID)
	require.NoError(t, err)
	require.Equal(t, "New Name", v.Name)
	require.True(t, v.Active, "upsert keeps fields it does not own")
	require.Equal(t, scraped, *v.LastScraped)

	catID, err := catalog.UpsertCategory(ctx, vendorID, "All Products", "all-products")
	require.NoError(t, err)
	again, err := catalog.UpsertCategory(ctx, vendorID, "All Products", "all-products")
	require.NoError(t, err)
	require.Equal(t, catID, again)

	p := crawler.Product{
		Name: "Gelato", URL: "https://v1.example/product/gelato/",
		Variants: []crawler.PriceVariant{{PackSize: 5, TotalPrice: 65}, {PackSize: 10, TotalPrice: 120}},
	}
	id, created, err := catalog.SaveProduct(ctx, catID, p)
	require.NoError(t, err)
	require.True(t, created)

	p.Variants = []crawler.PriceVariant{{PackSize: 5, TotalPrice: 55}}
	id2, created, err := catalog.SaveProduct(ctx, catID, p)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, id, id2)

	prices, err := catalog.StoredPrices(ctx, []string{id, "unknown"})
	require.NoError(t, err)
	require.Equal(t, map[string]map[int]float64{id: {5: 55}}, prices, "variants are replaced wholesale")

	ids, err := catalog.ResolveProductIDs(ctx, vendorID, []string{p.URL, "https://v1.example/product/none/"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{p.URL: id}, ids)
}

func TestCatalogSubscribersForProducts(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog()
	catalog.AddSubscriber(crawler.Subscriber{UserID: "u1", AlertsEnabled: true, SavedProductIDs: []string{"p1", "p9"}})
	catalog.AddSubscriber(crawler.Subscriber{UserID: "u2", AlertsEnabled: false, SavedProductIDs: []string{"p2"}})
	catalog.AddSubscriber(crawler.Subscriber{UserID: "u3", AlertsEnabled: true, SavedProductIDs: []string{"p7"}})

	subs, err := catalog.SubscribersForProducts(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, []string{"p1"}, subs[0].SavedProductIDs)
	require.Equal(t, "u2", subs[1].UserID)
}

func TestScheduleStoreAndCrawlLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	schedules := NewScheduleStore()
	require.NoError(t, schedules.PutSchedule(ctx, crawler.Schedule{VendorID: "b", IntervalHours: 6}))
	require.NoError(t, schedules.PutSchedule(ctx, crawler.Schedule{VendorID: "a", IntervalHours: 24}))
	require.NoError(t, schedules.PutSchedule(ctx, crawler.Schedule{VendorID: "a", IntervalHours: 12}))
	all, err := schedules.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 12, all[0].IntervalHours)
	require.NoError(t, schedules.DeleteSchedule(ctx, "a"))
	_, err = schedules.GetSchedule(ctx, "a")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	log := NewCrawlLog()
	require.NoError(t, log.AppendCrawlLog(ctx, crawler.CrawlLogEntry{VendorID: "a", Status: crawler.CrawlLogSuccess}))
	require.NoError(t, log.AppendCrawlLog(ctx, crawler.CrawlLogEntry{VendorID: "b", Status: crawler.CrawlLogError}))
	require.NoError(t, log.AppendCrawlLog(ctx, crawler.CrawlLogEntry{VendorID: "a", Status: crawler.CrawlLogError}))
	entries, err := log.ListCrawlLogs(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(3), entries[0].ID)
	entries, _ = log.ListCrawlLogs(ctx, "", 1)
	require.Len(t, entries, 1)
}
