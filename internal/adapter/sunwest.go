package adapter

import (
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
)

// SunWestKey identifies the SunWest Genetics adapter.
const SunWestKey = "sunwestgenetics"

// SunWest extracts SunWest Genetics shop listings. Potency figures live in
// generic Elementor icon-list rows prefixed with "THC:" and "CBD:".
type SunWest struct{}

// NewSunWest returns the SunWest Genetics adapter.
func NewSunWest() *SunWest { return &SunWest{} }

// Key implements Adapter.
func (*SunWest) Key() string { return SunWestKey }

// Selectors implements Adapter.
func (*SunWest) Selectors() Selectors {
	return Selectors{
		ProductCard:     "li.product",
		ProductLink:     "h3.prod_titles a",
		ProductImage:    "figure.main_img img",
		StrainType:      ".icatztop .elementor-icon-list-text",
		AttributeText:   ".elementor-icon-list-text",
		VariationInputs: "input.product_variation_radio",
		Pagination:      ".page-numbers",
		ResultCount:     ".woocommerce-result-count",
		PageSize:        16,
	}
}

// PageURL implements Adapter.
func (*SunWest) PageURL(baseURL, sourcePath string, page int) (string, error) {
	if err := mustPositive(page); err != nil {
		return "", err
	}
	return WooCommercePageURL(baseURL, sourcePath, page)
}

// Extract implements Adapter.
func (*SunWest) Extract(html []byte, sel Selectors, baseURL string) (Extraction, error) {
	return extractCards(html, sel, baseURL, func(card *goquery.Selection, sel Selectors, p *crawler.Product) {
		if slug := slugFromURL(p.URL); slug != "" {
			p.Slug = slug
		}
		p.StrainType = optionalText(card, sel.StrainType)
		if p.StrainType != nil {
			p.CannabisType = ParseCannabisType(*p.StrainType)
		}
		p.THC = labelledRange(card, sel.AttributeText, "THC:")
		p.CBD = labelledRange(card, sel.AttributeText, "CBD:")
	})
}
