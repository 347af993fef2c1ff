// Package persistence writes crawl output to the catalog: vendor refresh,
// the default category, product upserts with wholesale variant replacement,
// and the append-only crawl log.
package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// Every crawl files its products under this category.
const (
	DefaultCategoryName = "All Products"
	DefaultCategorySlug = "all-products"
)

// Store is the catalog write surface.
type Store interface {
	UpsertVendor(ctx context.Context, vendor crawler.Vendor, scrapedAt time.Time) (string, error)
	UpsertCategory(ctx context.Context, vendorRecordID, name, slug string) (string, error)
	SaveProduct(ctx context.Context, categoryID string, p crawler.Product) (string, bool, error)
	ResolveProductIDs(ctx context.Context, vendorRecordID string, urls []string) (map[string]string, error)
}

// CrawlLogWriter appends crawl log rows.
type CrawlLogWriter interface {
	AppendCrawlLog(ctx context.Context, entry crawler.CrawlLogEntry) error
}

// Service persists one crawl's results.
type Service struct {
	store  Store
	logs   CrawlLogWriter
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Service. clock defaults to the UTC system clock.
func New(store Store, logs CrawlLogWriter, clock crawler.Clock, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("crawl log writer is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logs: logs, clock: clock, logger: logger.Named("persistence")}, nil
}

// UpsertVendor creates the vendor record on first use and refreshes its name,
// website and last-scraped stamp.
func (s *Service) UpsertVendor(ctx context.Context, vendor crawler.Vendor) (string, error) {
	id, err := s.store.UpsertVendor(ctx, vendor, s.clock.Now())
	if err != nil {
		return "", crawler.NewError(crawler.KindPersistence, "upsert vendor", err)
	}
	return id, nil
}

// UpsertCategory returns the category id for (vendor, slug).
func (s *Service) UpsertCategory(ctx context.Context, vendorRecordID, name, slug string) (string, error) {
	id, err := s.store.UpsertCategory(ctx, vendorRecordID, name, slug)
	if err != nil {
		return "", crawler.NewError(crawler.KindPersistence, "upsert category", err)
	}
	return id, nil
}

// SaveProducts writes each product in its own transaction. A failed product
// counts toward Errors and the batch continues; only a cancelled context
// aborts it.
func (s *Service) SaveProducts(ctx context.Context, categoryID string, products []crawler.Product) (crawler.SaveResult, error) {
	res := crawler.SaveResult{ProductIDs: make(map[string]string, len(products))}
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("save products: %w", err)
		}
		id, created, err := s.store.SaveProduct(ctx, categoryID, p)
		if err != nil {
			res.Errors++
			s.logger.Warn("product save failed",
				zap.String("url", p.URL),
				zap.String("name", p.Name),
				zap.Error(err),
			)
			continue
		}
		res.ProductIDs[p.URL] = id
		if created {
			res.Saved++
		} else {
			res.Updated++
		}
	}
	s.logger.Debug("products persisted",
		zap.String("category_id", categoryID),
		zap.Int("saved", res.Saved),
		zap.Int("updated", res.Updated),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

// ResolveProductIDs maps product URLs to stored ids; unknown URLs are absent.
func (s *Service) ResolveProductIDs(ctx context.Context, vendorRecordID string, urls []string) (map[string]string, error) {
	if len(urls) == 0 {
		return map[string]string{}, nil
	}
	ids, err := s.store.ResolveProductIDs(ctx, vendorRecordID, urls)
	if err != nil {
		return nil, crawler.NewError(crawler.KindPersistence, "resolve product ids", err)
	}
	return ids, nil
}

// LogCrawl appends one crawl log entry.
func (s *Service) LogCrawl(ctx context.Context, entry crawler.CrawlLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	if err := s.logs.AppendCrawlLog(ctx, entry); err != nil {
		return crawler.NewError(crawler.KindPersistence, "append crawl log", err)
	}
	return nil
}
