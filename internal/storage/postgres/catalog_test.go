package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

func newCatalog(t *testing.T) (*Catalog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	catalog, err := NewCatalog(mock, fixedIDs{id: "new-id"})
	require.NoError(t, err)
	return catalog, mock
}

func TestCatalogSaveProductReplacesVariantsInTransaction(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	p := crawler.Product{
		Name: "Gelato",
		URL:  "https://v1.example/product/gelato/",
		Slug: "gelato",
		Variants: []crawler.PriceVariant{
			{PackSize: 5, TotalPrice: 65, PricePerSeed: 13},
			{PackSize: 10, TotalPrice: 120, PricePerSeed: 12},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO products").
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow("p-1", false))
	mock.ExpectExec("DELETE FROM price_variants").
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO price_variants").
		WithArgs("p-1", 5, 65.0, 13.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO price_variants").
		WithArgs("p-1", 10, 120.0, 12.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, created, err := catalog.SaveProduct(context.Background(), "cat-1", p)
	require.NoError(t, err)
	require.Equal(t, "p-1", id)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSaveProductRollsBackOnVariantFailure(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO products").
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow("p-2", true))
	mock.ExpectExec("DELETE FROM price_variants").
		WithArgs("p-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO price_variants").
		WillReturnError(errors.New("numeric overflow"))
	mock.ExpectRollback()

	_, _, err := catalog.SaveProduct(context.Background(), "cat-1", crawler.Product{
		Name:     "Runtz",
		URL:      "https://v1.example/product/runtz/",
		Variants: []crawler.PriceVariant{{PackSize: 3, TotalPrice: 1e12}},
	})
	require.ErrorContains(t, err, "numeric overflow")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStoredPricesSingleQuery(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT product_id, pack_size, total_price FROM price_variants").
		WithArgs([]string{"p-1", "p-2"}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "pack_size", "total_price"}).
			AddRow("p-1", 5, 65.0).
			AddRow("p-1", 10, 120.0).
			AddRow("p-2", 3, 30.0))

	prices, err := catalog.StoredPrices(context.Background(), []string{"p-1", "p-2"})
	require.NoError(t, err)
	require.Equal(t, map[string]map[int]float64{
		"p-1": {5: 65, 10: 120},
		"p-2": {3: 30},
	}, prices)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSubscribersForProducts(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	mock.ExpectQuery("FROM users u").
		WithArgs([]string{"p-1", "p-2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "price_alerts_enabled", "saved"}).
			AddRow("u-1", "a@example.com", "Ada", true, []string{"p-1", "p-2"}).
			AddRow("u-2", "b@example.com", "Bo", false, []string{"p-2"}))

	subs, err := catalog.SubscribersForProducts(context.Background(), []string{"p-1", "p-2"})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, []string{"p-1", "p-2"}, subs[0].SavedProductIDs)
	require.False(t, subs[1].AlertsEnabled)
	require.NoError(t, mock.ExpectationsWereMet())

	// No ids, no query.
	subs, err = catalog.SubscribersForProducts(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestCatalogUpsertVendorAndCategory(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	scraped := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	v := crawler.Vendor{ID: "v1", Name: "Vendor One", BaseURL: "https://v1.example", Adapter: "sunwestgenetics", Active: true}
	mock.ExpectQuery("INSERT INTO vendors").
		WithArgs("v1", "Vendor One", "https://v1.example", "sunwestgenetics", "", true, scraped).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("v1"))
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("new-id", "v1", "All Products", "all-products").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("cat-existing"))

	vendorID, err := catalog.UpsertVendor(context.Background(), v, scraped)
	require.NoError(t, err)
	catID, err := catalog.UpsertCategory(context.Background(), vendorID, "All Products", "all-products")
	require.NoError(t, err)
	require.Equal(t, "cat-existing", catID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogResolveProductIDs(t *testing.T) {
	t.Parallel()

	catalog, mock := newCatalog(t)
	defer mock.Close()

	urls := []string{"https://v1.example/product/a/", "https://v1.example/product/b/"}
	mock.ExpectQuery("SELECT url, id FROM products").
		WithArgs("v1", urls).
		WillReturnRows(pgxmock.NewRows([]string{"url", "id"}).AddRow(urls[0], "p-a"))

	ids, err := catalog.ResolveProductIDs(context.Background(), "v1", urls)
	require.NoError(t, err)
	require.Equal(t, map[string]string{urls[0]: "p-a"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
