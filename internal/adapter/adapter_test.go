package adapter

import (
	"testing"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

const vancouverListing = `<html><body>
<p class="woocommerce-result-count">Showing 1–12 of 30 results</p>
<ul class="products">
  <li class="product">
    <img src="data:image/svg+xml;base64,AAA" data-src="/wp-content/uploads/gelato.jpg">
    <h2 class="product-title"><a href="/product/gelato-33-feminized/#reviews">Gelato 33 Feminized</a></h2>
    <span class="product-badge">New Strain 2025</span>
    <div class="itype"><span class="elementor-icon-list-text">Indica Dominant Hybrid</span></div>
    <span class="star-rating"><span class="rating">4.8</span></span>
    <span class="review-count">(27)</span>
    <span class="thc-lvl">THC 20–25%</span>
    <span class="cbd-lvl">CBD : 1%</span>
    <span class="flowering-time">8-9 weeks</span>
    <span class="growing-level">Moderate</span>
    <input class="product_variation_radio" item-price="65.00" value="5-seeds">
    <input class="product_variation_radio" item-price="120.00" value="10-seeds">
    <input class="product_variation_radio" item-price="oops" value="25-seeds">
  </li>
  <li class="product">
    <h2 class="product-title"><a href="https://vancouverseedbank.ca/product/gelato-33-feminized/">Gelato 33 Feminized</a></h2>
  </li>
  <li class="product">
    <h2 class="product-title"><a>No link here</a></h2>
  </li>
  <li class="product">
    <img data-lazy-src="https://cdn.example.com/zkittlez.png">
    <h2 class="product-title"><a href="/product/zkittlez-auto/">Zkittlez Autoflower</a></h2>
  </li>
</ul>
<nav><a class="page-numbers" href="/shop/page/2/">2</a><span class="page-numbers">3</span><a class="next page-numbers">→</a></nav>
</body></html>`

const sunwestListing = `<html><body>
<ul>
  <li class="product">
    <figure class="main_img"><img src="/img/bb.jpg"></figure>
    <h3 class="prod_titles"><a href="/shop/blue-dream-feminized-seeds/">Blue Dream Feminized</a></h3>
    <div class="icatztop"><span class="elementor-icon-list-text">Sativa Dominant</span></div>
    <span class="elementor-icon-list-text">THC: 18% - 24%</span>
    <span class="elementor-icon-list-text">CBD: Low</span>
    <input class="product_variation_radio" item-price="49.99" value="5-seeds">
  </li>
</ul>
</body></html>`

func TestVancouverExtract(t *testing.T) {
	t.Parallel()

	a := NewVancouver()
	ext, err := a.Extract([]byte(vancouverListing), a.Selectors(), "https://vancouverseedbank.ca")
	require.NoError(t, err)
	require.Len(t, ext.Products, 2)

	gelato := ext.Products[0]
	require.Equal(t, "Gelato 33 Feminized", gelato.Name)
	require.Equal(t, "https://vancouverseedbank.ca/product/gelato-33-feminized/", gelato.URL)
	require.Equal(t, "gelato-33-feminized", gelato.Slug)
	require.NotNil(t, gelato.ImageURL)
	require.Equal(t, "https://vancouverseedbank.ca/wp-content/uploads/gelato.jpg", *gelato.ImageURL)
	require.Equal(t, crawler.SeedTypeFeminized, *gelato.SeedType)
	require.Equal(t, crawler.CannabisTypeIndica, *gelato.CannabisType)
	require.Equal(t, "New Strain 2025", *gelato.Badge)
	require.InDelta(t, 4.8, *gelato.Rating, 0.001)
	require.Equal(t, 27, *gelato.ReviewCount)
	require.Equal(t, crawler.Range{Min: 20, Max: 25}, *gelato.THC)
	require.Equal(t, crawler.Range{Min: 1, Max: 1}, *gelato.CBD)
	require.Equal(t, "8-9 weeks", *gelato.FloweringTime)
	require.Equal(t, []crawler.PriceVariant{
		{PackSize: 5, TotalPrice: 65, PricePerSeed: 13},
		{PackSize: 10, TotalPrice: 120, PricePerSeed: 12},
	}, gelato.Variants)

	zkittlez := ext.Products[1]
	require.Equal(t, crawler.SeedTypeAutoflower, *zkittlez.SeedType)
	require.Equal(t, "https://cdn.example.com/zkittlez.png", *zkittlez.ImageURL)
	require.Nil(t, zkittlez.THC)
	require.Nil(t, zkittlez.Rating)
	require.Empty(t, zkittlez.Variants)

	require.NotNil(t, ext.MaxPage)
	require.Equal(t, 3, *ext.MaxPage)
}

func TestSunWestExtract(t *testing.T) {
	t.Parallel()

	a := NewSunWest()
	ext, err := a.Extract([]byte(sunwestListing), a.Selectors(), "https://sunwestgenetics.com")
	require.NoError(t, err)
	require.Len(t, ext.Products, 1)

	p := ext.Products[0]
	require.Equal(t, "blue-dream-feminized-seeds", p.Slug)
	require.Equal(t, crawler.CannabisTypeSativa, *p.CannabisType)
	require.Equal(t, crawler.Range{Min: 18, Max: 24}, *p.THC)
	require.Nil(t, p.CBD)
	require.Equal(t, "https://sunwestgenetics.com/img/bb.jpg", *p.ImageURL)
	require.Equal(t, []crawler.PriceVariant{{PackSize: 5, TotalPrice: 49.99, PricePerSeed: 10}}, p.Variants)
	require.Nil(t, ext.MaxPage)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	a := NewVancouver()
	first, err := a.PageURL("https://vancouverseedbank.ca", "/shop", 1)
	require.NoError(t, err)
	require.Equal(t, "https://vancouverseedbank.ca/shop/", first)

	third, err := a.PageURL("https://vancouverseedbank.ca", "/shop/", 3)
	require.NoError(t, err)
	require.Equal(t, "https://vancouverseedbank.ca/shop/page/3/", third)

	_, err = a.PageURL("https://vancouverseedbank.ca", "/shop", 0)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	require.Equal(t, []string{SunWestKey, VancouverKey}, r.Keys())

	a, err := r.Lookup("VancouverSeedBank")
	require.NoError(t, err)
	require.Equal(t, VancouverKey, a.Key())

	_, err = r.Lookup("nope")
	require.ErrorIs(t, err, ErrUnknownAdapter)

	err = r.Validate([]crawler.Vendor{
		{ID: "vsb", BaseURL: "https://vancouverseedbank.ca", Adapter: VancouverKey, Sources: []crawler.Source{{Path: "/shop"}}},
		{ID: "ghost", BaseURL: "https://ghost.example", Adapter: "ghost"},
	})
	require.ErrorIs(t, err, ErrUnknownAdapter)
	require.ErrorContains(t, err, "vendor ghost: no sources configured")
	require.NotContains(t, err.Error(), "vendor vsb")
}
