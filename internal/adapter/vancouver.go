package adapter

import (
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
)

// VancouverKey identifies the Vancouver Seed Bank adapter.
const VancouverKey = "vancouverseedbank"

// Vancouver extracts Vancouver Seed Bank shop listings.
type Vancouver struct{}

// NewVancouver returns the Vancouver Seed Bank adapter.
func NewVancouver() *Vancouver { return &Vancouver{} }

// Key implements Adapter.
func (*Vancouver) Key() string { return VancouverKey }

// Selectors implements Adapter.
func (*Vancouver) Selectors() Selectors {
	return Selectors{
		ProductCard:     "li.product",
		ProductLink:     ".product-title a, h2.woocommerce-loop-product__title a",
		ProductImage:    "img",
		StrainType:      ".itype .elementor-icon-list-text",
		Badge:           ".product-badge, .onsale",
		Rating:          ".star-rating .rating",
		ReviewCount:     ".review-count",
		THC:             ".thc-lvl",
		CBD:             ".cbd-lvl",
		FloweringTime:   ".flowering-time",
		GrowingLevel:    ".growing-level",
		VariationInputs: "input.product_variation_radio",
		Pagination:      "a.page-numbers, span.page-numbers",
		ResultCount:     ".woocommerce-result-count",
		PageSize:        12,
	}
}

// PageURL implements Adapter.
func (*Vancouver) PageURL(baseURL, sourcePath string, page int) (string, error) {
	if err := mustPositive(page); err != nil {
		return "", err
	}
	return WooCommercePageURL(baseURL, sourcePath, page)
}

// Extract implements Adapter.
func (*Vancouver) Extract(html []byte, sel Selectors, baseURL string) (Extraction, error) {
	return extractCards(html, sel, baseURL, func(card *goquery.Selection, sel Selectors, p *crawler.Product) {
		p.StrainType = optionalText(card, sel.StrainType)
		if p.StrainType != nil {
			p.CannabisType = ParseCannabisType(*p.StrainType)
		}
		p.Badge = optionalText(card, sel.Badge)
		p.Rating = parseRating(card, sel.Rating)
		p.ReviewCount = parseCount(card, sel.ReviewCount)
		if thc := optionalText(card, sel.THC); thc != nil {
			p.THC = ParseRange(*thc)
		}
		if cbd := optionalText(card, sel.CBD); cbd != nil {
			p.CBD = ParseRange(*cbd)
		}
		p.FloweringTime = optionalText(card, sel.FloweringTime)
		p.GrowingLevel = optionalText(card, sel.GrowingLevel)
	})
}
