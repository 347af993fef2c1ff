package adapter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
)

// cardHook fills vendor-specific attributes on a product that already has
// its name, URL, image and variants.
type cardHook func(card *goquery.Selection, sel Selectors, product *crawler.Product)

// extractCards walks every product card on a WooCommerce listing page.
// Cards without a usable link or name are skipped; URLs are de-duplicated.
func extractCards(html []byte, sel Selectors, baseURL string, hook cardHook) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Extraction{}, crawler.NewError(crawler.KindParse, "parse listing html", err)
	}

	seen := make(map[string]struct{})
	products := make([]crawler.Product, 0)
	doc.Find(sel.ProductCard).Each(func(_ int, card *goquery.Selection) {
		link := card.Find(sel.ProductLink).First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		productURL, err := Canonicalize(href, baseURL)
		if err != nil {
			return
		}
		if _, dup := seen[productURL]; dup {
			return
		}
		name := strings.Join(strings.Fields(link.Text()), " ")
		if len(name) < 2 {
			return
		}
		seen[productURL] = struct{}{}

		product := crawler.Product{
			Name:     name,
			URL:      productURL,
			Slug:     Slugify(name),
			Variants: variantsOf(card, sel.VariationInputs),
		}
		if sel.ProductImage != "" {
			product.ImageURL = ImageSource(card.Find(sel.ProductImage).First(), baseURL)
		}
		product.SeedType = ParseSeedType(name)
		if hook != nil {
			hook(card, sel, &product)
		}
		products = append(products, product)
	})

	return Extraction{Products: products, MaxPage: MaxPage(doc, sel)}, nil
}

// variantsOf reads WooCommerce variation radios carrying an item-price
// attribute and a "<n>-seeds" value. The first price per pack size wins.
func variantsOf(card *goquery.Selection, selector string) []crawler.PriceVariant {
	variants := make([]crawler.PriceVariant, 0)
	if selector == "" {
		return variants
	}
	seen := make(map[int]struct{})
	card.Find(selector).Each(func(_ int, input *goquery.Selection) {
		priceText, ok := input.Attr("item-price")
		if !ok {
			return
		}
		price, ok := ParsePrice(priceText)
		if !ok {
			return
		}
		value, _ := input.Attr("value")
		size, ok := ParsePackSize(value)
		if !ok {
			return
		}
		if _, dup := seen[size]; dup {
			return
		}
		seen[size] = struct{}{}
		variants = append(variants, NewVariant(size, price))
	})
	return variants
}

func parseRating(card *goquery.Selection, selector string) *float64 {
	text := optionalText(card, selector)
	if text == nil {
		return nil
	}
	m := pricePattern.FindString(*text)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseCount(card *goquery.Selection, selector string) *int {
	text := optionalText(card, selector)
	if text == nil {
		return nil
	}
	m := integerPattern.FindString(*text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func labelledRange(card *goquery.Selection, selector, label string) *crawler.Range {
	var out *crawler.Range
	card.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(strings.ToUpper(text), label)
		if idx < 0 {
			return true
		}
		out = ParseRange(text[idx+len(label):])
		return false
	})
	return out
}

func mustPositive(page int) error {
	if page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", page)
	}
	return nil
}
