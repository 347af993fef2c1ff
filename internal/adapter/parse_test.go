package adapter

import (
	"strings"
	"testing"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want *crawler.Range
	}{
		{"THC 18–22%", &crawler.Range{Min: 18, Max: 22}},
		{"THC 17%", &crawler.Range{Min: 17, Max: 17}},
		{"CBD : 0.5-1%", &crawler.Range{Min: 0.5, Max: 1}},
		{"24% - 18%", &crawler.Range{Min: 18, Max: 24}},
		{"High", nil},
		{"", nil},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ParseRange(tc.in), tc.in)
	}
}

func TestParsePackSize(t *testing.T) {
	t.Parallel()

	n, ok := ParsePackSize("10-seeds")
	require.True(t, ok)
	require.Equal(t, 10, n)

	n, ok = ParsePackSize("Pack of 3")
	require.True(t, ok)
	require.Equal(t, 3, n)

	_, ok = ParsePackSize("single")
	require.False(t, ok)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	v, ok := ParsePrice("CA$1,299.50")
	require.True(t, ok)
	require.InDelta(t, 1299.5, v, 0.0001)

	_, ok = ParsePrice("free")
	require.False(t, ok)
}

func TestParseSeedAndCannabisType(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawler.SeedTypeAutoflower, *ParseSeedType("Northern Lights Auto-Flower"))
	require.Equal(t, crawler.SeedTypeFeminized, *ParseSeedType("OG Kush Fem Seeds"))
	require.Equal(t, crawler.SeedTypeRegular, *ParseSeedType("Skunk #1 Regular"))
	require.Equal(t, crawler.SeedTypePhotoperiod, *ParseSeedType("Haze photoperiod"))
	require.Nil(t, ParseSeedType("Mystery Mix"))

	require.Equal(t, crawler.CannabisTypeIndica, *ParseCannabisType("Indica Dominant Hybrid"))
	require.Equal(t, crawler.CannabisTypeSativa, *ParseCannabisType("Pure Sativa"))
	require.Equal(t, crawler.CannabisTypeHybrid, *ParseCannabisType("Balanced Hybrid"))
	require.Equal(t, crawler.CannabisTypeHybrid, *ParseCannabisType("50/50"))
	require.Nil(t, ParseCannabisType("unknown"))
}

func TestSlugifyAndCanonicalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gelato-33-feminized", Slugify("  Gelato #33 (Feminized) "))

	got, err := Canonicalize("/product//a/?b=2&a=1#frag", "https://Example.com/shop/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/product/a/?a=1&b=2", got)

	_, err = Canonicalize("  ", "https://example.com")
	require.Error(t, err)
}

func TestMaxPageFromResultCount(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<p class="woocommerce-result-count">Showing 49–55 of 55 results</p>`))
	require.NoError(t, err)

	pages := MaxPage(doc, Selectors{ResultCount: ".woocommerce-result-count", PageSize: 12})
	require.NotNil(t, pages)
	require.Equal(t, 5, *pages)

	empty, err := goquery.NewDocumentFromReader(strings.NewReader(`<p>nothing</p>`))
	require.NoError(t, err)
	require.Nil(t, MaxPage(empty, Selectors{Pagination: ".page-numbers", ResultCount: ".count"}))
}
