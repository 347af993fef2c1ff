// Package pricealert compares freshly scraped prices with the stored ones and
// reports pack sizes whose price fell by at least the configured percentage.
package pricealert

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// Defaults for Config.
const (
	DefaultThresholdPercent = -5.0
	DefaultCurrency         = "CAD"
)

// PriceReader loads stored total prices keyed by product id then pack size.
type PriceReader interface {
	StoredPrices(ctx context.Context, productIDs []string) (map[string]map[int]float64, error)
}

// Config tunes detection.
type Config struct {
	// ThresholdPercent is inclusive: a change is reported when
	// percentChange <= ThresholdPercent.
	ThresholdPercent float64
	Currency         string
}

// Detector finds significant price drops. It never writes.
type Detector struct {
	prices PriceReader
	cfg    Config
	logger *zap.Logger
}

// New builds a Detector. A zero threshold falls back to the default.
func New(prices PriceReader, cfg Config, logger *zap.Logger) (*Detector, error) {
	if prices == nil {
		return nil, fmt.Errorf("price reader is required")
	}
	if cfg.ThresholdPercent == 0 {
		cfg.ThresholdPercent = DefaultThresholdPercent
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{prices: prices, cfg: cfg, logger: logger.Named("pricealert")}, nil
}

// Detect compares products against the prices stored before this crawl's
// save. Untagged products, new pack sizes and zero stored prices are skipped.
// Output is sorted by product id, then pack size.
func (d *Detector) Detect(ctx context.Context, vendor crawler.Vendor, products []crawler.TaggedProduct) ([]crawler.PriceChange, error) {
	ids := make([]string, 0, len(products))
	seen := make(map[string]struct{}, len(products))
	for _, tp := range products {
		if tp.ProductID == "" {
			continue
		}
		if _, dup := seen[tp.ProductID]; dup {
			continue
		}
		seen[tp.ProductID] = struct{}{}
		ids = append(ids, tp.ProductID)
	}
	changes := make([]crawler.PriceChange, 0)
	if len(ids) == 0 {
		return changes, nil
	}

	stored, err := d.prices.StoredPrices(ctx, ids)
	if err != nil {
		return nil, crawler.NewError(crawler.KindPersistence, "load stored prices", err)
	}

	var checked, noHistory int
	for _, tp := range products {
		if tp.ProductID == "" {
			continue
		}
		old := stored[tp.ProductID]
		for _, v := range tp.Product.Variants {
			checked++
			oldPrice, ok := old[v.PackSize]
			if !ok || oldPrice == 0 {
				noHistory++
				continue
			}
			delta := v.TotalPrice - oldPrice
			pct := delta / oldPrice * 100
			if pct > d.cfg.ThresholdPercent {
				continue
			}
			changes = append(changes, crawler.PriceChange{
				ProductID:     tp.ProductID,
				ProductName:   tp.Product.Name,
				ProductSlug:   tp.Product.Slug,
				ProductImage:  tp.Product.ImageURL,
				ProductURL:    tp.Product.URL,
				VendorID:      vendor.ID,
				VendorName:    vendor.Name,
				VendorWebsite: vendor.BaseURL,
				AffiliateTag:  vendor.AffiliateTag,
				PackSize:      v.PackSize,
				OldPrice:      oldPrice,
				NewPrice:      v.TotalPrice,
				PriceChange:   delta,
				PercentChange: pct,
				Currency:      d.cfg.Currency,
			})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].ProductID != changes[j].ProductID {
			return changes[i].ProductID < changes[j].ProductID
		}
		return changes[i].PackSize < changes[j].PackSize
	})

	d.logger.Info("price changes detected",
		zap.String("vendor_id", vendor.ID),
		zap.Int("variants_checked", checked),
		zap.Int("without_history", noHistory),
		zap.Int("changes", len(changes)),
	)
	return changes, nil
}
