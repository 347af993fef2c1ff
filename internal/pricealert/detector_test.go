package pricealert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

type stubPrices struct {
	prices map[string]map[int]float64
	calls  int
	asked  []string
	err    error
}

func (s *stubPrices) StoredPrices(_ context.Context, ids []string) (map[string]map[int]float64, error) {
	s.calls++
	s.asked = append([]string(nil), ids...)
	return s.prices, s.err
}

var vendor = crawler.Vendor{ID: "v1", Name: "Vendor One", BaseURL: "https://v1.example", AffiliateTag: "ref=seedbank"}

func tagged(id string, variants ...crawler.PriceVariant) crawler.TaggedProduct {
	return crawler.TaggedProduct{
		ProductID: id,
		Product:   crawler.Product{Name: "Product " + id, Slug: id, URL: "https://v1.example/p/" + id + "/", Variants: variants},
	}
}

func variant(pack int, price float64) crawler.PriceVariant {
	return crawler.PriceVariant{PackSize: pack, TotalPrice: price}
}

func TestDetectThresholdBoundary(t *testing.T) {
	t.Parallel()

	reader := &stubPrices{prices: map[string]map[int]float64{
		"p-b": {5: 100, 10: 100},
		"p-a": {5: 100},
	}}
	d, err := New(reader, Config{}, zap.NewNop())
	require.NoError(t, err)

	changes, err := d.Detect(context.Background(), vendor, []crawler.TaggedProduct{
		tagged("p-b", variant(10, 95), variant(5, 95.01)), // exactly -5% and just above
		tagged("p-a", variant(5, 80)),
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, 1, reader.calls)

	require.Equal(t, "p-a", changes[0].ProductID)
	require.InDelta(t, -20.0, changes[0].PercentChange, 1e-9)
	require.InDelta(t, -20.0, changes[0].PriceChange, 1e-9)
	require.Equal(t, "CAD", changes[0].Currency)
	require.Equal(t, "ref=seedbank", changes[0].AffiliateTag)
	require.Equal(t, "https://v1.example", changes[0].VendorWebsite)

	require.Equal(t, "p-b", changes[1].ProductID)
	require.Equal(t, 10, changes[1].PackSize)
	require.InDelta(t, -5.0, changes[1].PercentChange, 1e-9)
}

func TestDetectSkipsUntaggedNewPacksAndZeroPrices(t *testing.T) {
	t.Parallel()

	reader := &stubPrices{prices: map[string]map[int]float64{
		"p-1": {5: 0},
	}}
	d, err := New(reader, Config{ThresholdPercent: -5}, nil)
	require.NoError(t, err)

	changes, err := d.Detect(context.Background(), vendor, []crawler.TaggedProduct{
		tagged("", variant(5, 1)),
		tagged("p-1", variant(5, 1), variant(20, 1)),
	})
	require.NoError(t, err)
	require.Empty(t, changes)
	require.Equal(t, []string{"p-1"}, reader.asked)
}

func TestDetectIsIdempotentAndNeverReadsWithoutIDs(t *testing.T) {
	t.Parallel()

	reader := &stubPrices{prices: map[string]map[int]float64{"p-1": {5: 50}}}
	d, err := New(reader, Config{}, nil)
	require.NoError(t, err)

	input := []crawler.TaggedProduct{tagged("p-1", variant(5, 40))}
	first, err := d.Detect(context.Background(), vendor, input)
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), vendor, input)
	require.NoError(t, err)
	require.Equal(t, first, second)

	none, err := d.Detect(context.Background(), vendor, []crawler.TaggedProduct{tagged("", variant(5, 1))})
	require.NoError(t, err)
	require.Empty(t, none)
	require.Equal(t, 2, reader.calls)
}

func TestDetectPropagatesReadErrors(t *testing.T) {
	t.Parallel()

	d, err := New(&stubPrices{err: errors.New("timeout")}, Config{}, nil)
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), vendor, []crawler.TaggedProduct{tagged("p-1", variant(5, 1))})
	require.Equal(t, crawler.KindPersistence, crawler.KindOf(err))
}
