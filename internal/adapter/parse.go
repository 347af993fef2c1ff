package adapter

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
)

var (
	rangePattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%?(?:\s*(?:[-–—]|to)\s*(\d+(?:\.\d+)?))?`)
	packSizePattern = regexp.MustCompile(`(?i)(\d+)\s*-?\s*seed`)
	integerPattern  = regexp.MustCompile(`\d+`)
	pricePattern    = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	showingPattern  = regexp.MustCompile(`(?i)showing\s+(\d+)\s*[-–—]\s*(\d+)\s+of\s+(\d+)`)
	nonSlugPattern  = regexp.MustCompile(`[^a-z0-9]+`)
)

const canonicalFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagSortQuery |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments

// ParseRange reads a percentage range such as "THC 18–22%". A single value
// yields min == max. Nil when no number is present.
func ParseRange(text string) *crawler.Range {
	m := rangePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	low, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	high := low
	if m[2] != "" {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			high = v
		}
	}
	return &crawler.Range{Min: math.Min(low, high), Max: math.Max(low, high)}
}

// ParsePackSize reads "10-seeds" style values, falling back to the first integer.
func ParsePackSize(text string) (int, bool) {
	if m := packSizePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}
	if m := integerPattern.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// ParsePrice reads a price such as "$1,299.00".
func ParsePrice(text string) (float64, bool) {
	m := pricePattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// NewVariant builds a price variant, rounding price-per-seed to cents.
func NewVariant(packSize int, total float64) crawler.PriceVariant {
	per := math.Round(total/float64(packSize)*100) / 100
	return crawler.PriceVariant{PackSize: packSize, TotalPrice: total, PricePerSeed: per}
}

// Slugify lowercases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	return strings.Trim(nonSlugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ParseSeedType classifies seed genetics from a product name or label.
func ParseSeedType(text string) *crawler.SeedType {
	t := " " + strings.ToLower(text) + " "
	var st crawler.SeedType
	switch {
	case strings.Contains(t, "autoflower") || strings.Contains(t, "auto flower") || strings.Contains(t, "auto-flower"):
		st = crawler.SeedTypeAutoflower
	case strings.Contains(t, "feminized") || strings.Contains(t, "feminised") || strings.Contains(t, " fem "):
		st = crawler.SeedTypeFeminized
	case strings.Contains(t, "regular") || strings.Contains(t, " reg "):
		st = crawler.SeedTypeRegular
	case strings.Contains(t, "photoperiod"):
		st = crawler.SeedTypePhotoperiod
	default:
		return nil
	}
	return &st
}

// ParseCannabisType classifies indica/sativa/hybrid from strain text.
func ParseCannabisType(text string) *crawler.CannabisType {
	t := strings.ToLower(text)
	var ct crawler.CannabisType
	switch {
	case strings.Contains(t, "indica dominant") || strings.Contains(t, "indica-dominant"):
		ct = crawler.CannabisTypeIndica
	case strings.Contains(t, "sativa dominant") || strings.Contains(t, "sativa-dominant"):
		ct = crawler.CannabisTypeSativa
	case strings.Contains(t, "hybrid") || strings.Contains(t, "balanced") || strings.Contains(t, "50/50"):
		ct = crawler.CannabisTypeHybrid
	case strings.Contains(t, "indica"):
		ct = crawler.CannabisTypeIndica
	case strings.Contains(t, "sativa"):
		ct = crawler.CannabisTypeSativa
	default:
		return nil
	}
	return &ct
}

// Canonicalize resolves raw against baseURL and normalizes the result.
func Canonicalize(raw, baseURL string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	normalized, err := purell.NormalizeURLString(base.ResolveReference(ref).String(), canonicalFlags)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	return normalized, nil
}

// ImageSource picks the first real image URL among lazy-loading attributes,
// skipping inline SVG placeholders.
func ImageSource(img *goquery.Selection, baseURL string) *string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		v, ok := img.Attr(attr)
		v = strings.TrimSpace(v)
		if !ok || v == "" || strings.HasPrefix(v, "data:image/svg") {
			continue
		}
		abs, err := Canonicalize(v, baseURL)
		if err != nil {
			continue
		}
		return &abs
	}
	return nil
}

// MaxPage reads the pagination bound from numbered page links or from a
// "Showing X–Y of Z results" counter.
func MaxPage(doc *goquery.Document, sel Selectors) *int {
	if sel.Pagination != "" {
		highest := 0
		doc.Find(sel.Pagination).Each(func(_ int, s *goquery.Selection) {
			if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > highest {
				highest = n
			}
		})
		if highest > 0 {
			return &highest
		}
	}
	if sel.ResultCount != "" {
		text := doc.Find(sel.ResultCount).First().Text()
		if m := showingPattern.FindStringSubmatch(text); m != nil {
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			total, _ := strconv.Atoi(m[3])
			size := to - from + 1
			if sel.PageSize > 0 && size < sel.PageSize && from > 1 {
				size = sel.PageSize
			}
			if size > 0 && total > 0 {
				pages := (total + size - 1) / size
				return &pages
			}
		}
	}
	return nil
}

// WooCommercePageURL builds "<base><source>/page/<n>/" style listing URLs.
func WooCommercePageURL(baseURL, sourcePath string, page int) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	src, err := url.Parse(sourcePath)
	if err != nil {
		return "", fmt.Errorf("parse source path: %w", err)
	}
	listing := base.ResolveReference(src)
	if page > 1 {
		listing.Path = path.Join(listing.Path, "page", strconv.Itoa(page)) + "/"
	} else if !strings.HasSuffix(listing.Path, "/") {
		listing.Path += "/"
	}
	return listing.String(), nil
}

func optionalText(card *goquery.Selection, selector string) *string {
	if selector == "" {
		return nil
	}
	text := strings.Join(strings.Fields(card.Find(selector).First().Text()), " ")
	if text == "" {
		return nil
	}
	return &text
}

func slugFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return Slugify(strings.TrimSuffix(path.Base(strings.TrimSuffix(u.Path, "/")), ".html"))
}
