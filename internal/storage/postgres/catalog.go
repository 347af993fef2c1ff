package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

// Catalog stores vendors, categories, products and price variants, and
// reads subscribers from the storefront's user and saved-product tables.
type Catalog struct {
	db  DB
	ids crawler.IDGenerator
}

// NewCatalog builds a Catalog on db.
func NewCatalog(db DB, ids crawler.IDGenerator) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Catalog{db: db, ids: ids}, nil
}

// SeedVendors upserts vendor definitions and replaces their sources in one
// transaction. LastScraped is never touched here.
func (c *Catalog) SeedVendors(ctx context.Context, vendors []crawler.Vendor) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed vendors: %w", err)
	}
	defer rollback(ctx, tx)
	for _, v := range vendors {
		_, err := tx.Exec(ctx, `
INSERT INTO vendors (id, name, base_url, adapter, affiliate_tag, active, auto_crawl_interval_hours)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_url = EXCLUDED.base_url, adapter = EXCLUDED.adapter,
	affiliate_tag = EXCLUDED.affiliate_tag, active = EXCLUDED.active,
	auto_crawl_interval_hours = EXCLUDED.auto_crawl_interval_hours, updated_at = now()`,
			v.ID, v.Name, v.BaseURL, v.Adapter, v.AffiliateTag, v.Active, v.AutoCrawlIntervalHours,
		)
		if err != nil {
			return fmt.Errorf("upsert vendor %s: %w", v.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM vendor_sources WHERE vendor_id = $1`, v.ID); err != nil {
			return fmt.Errorf("clear sources for %s: %w", v.ID, err)
		}
		for i, src := range v.Sources {
			_, err := tx.Exec(ctx, `
INSERT INTO vendor_sources (vendor_id, path, max_pages, position) VALUES ($1, $2, $3, $4)`,
				v.ID, src.Path, src.MaxPages, i,
			)
			if err != nil {
				return fmt.Errorf("insert source %s for %s: %w", src.Path, v.ID, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed vendors: %w", err)
	}
	return nil
}

const vendorColumns = `id, name, base_url, adapter, affiliate_tag, active, auto_crawl_interval_hours, last_scraped`

// GetVendor implements crawler.VendorStore.
func (c *Catalog) GetVendor(ctx context.Context, vendorID string) (crawler.Vendor, error) {
	row := c.db.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, vendorID)
	v, err := scanVendor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Vendor{}, fmt.Errorf("vendor %s: %w", vendorID, crawler.ErrNotFound)
		}
		return crawler.Vendor{}, fmt.Errorf("get vendor: %w", err)
	}
	sources, err := c.sources(ctx, []string{vendorID})
	if err != nil {
		return crawler.Vendor{}, err
	}
	v.Sources = sources[vendorID]
	return v, nil
}

// ListVendors implements crawler.VendorStore.
func (c *Catalog) ListVendors(ctx context.Context) ([]crawler.Vendor, error) {
	rows, err := c.db.Query(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	var vendors []crawler.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}
	ids := make([]string, len(vendors))
	for i, v := range vendors {
		ids[i] = v.ID
	}
	sources, err := c.sources(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range vendors {
		vendors[i].Sources = sources[vendors[i].ID]
	}
	return vendors, nil
}

func (c *Catalog) sources(ctx context.Context, vendorIDs []string) (map[string][]crawler.Source, error) {
	out := make(map[string][]crawler.Source, len(vendorIDs))
	if len(vendorIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.Query(ctx, `
SELECT vendor_id, path, max_pages FROM vendor_sources WHERE vendor_id = ANY($1) ORDER BY vendor_id, position`, vendorIDs)
	if err != nil {
		return nil, fmt.Errorf("list vendor sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			vendorID string
			src      crawler.Source
		)
		if err := rows.Scan(&vendorID, &src.Path, &src.MaxPages); err != nil {
			return nil, fmt.Errorf("scan vendor source: %w", err)
		}
		out[vendorID] = append(out[vendorID], src)
	}
	return out, rows.Err()
}

// UpsertVendor refreshes name, website and last_scraped, creating the row on
// first use. It returns the vendor record id.
func (c *Catalog) UpsertVendor(ctx context.Context, vendor crawler.Vendor, scrapedAt time.Time) (string, error) {
	var id string
	err := c.db.QueryRow(ctx, `
INSERT INTO vendors (id, name, base_url, adapter, affiliate_tag, active, last_scraped)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_url = EXCLUDED.base_url,
	last_scraped = EXCLUDED.last_scraped, updated_at = now()
RETURNING id`,
		vendor.ID, vendor.Name, vendor.BaseURL, vendor.Adapter, vendor.AffiliateTag, vendor.Active, scrapedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert vendor: %w", err)
	}
	return id, nil
}

// UpsertCategory returns the id of the (vendor, slug) category.
func (c *Catalog) UpsertCategory(ctx context.Context, vendorRecordID, name, slug string) (string, error) {
	newID, err := c.ids.NewID()
	if err != nil {
		return "", err
	}
	var id string
	err = c.db.QueryRow(ctx, `
INSERT INTO categories (id, vendor_id, name, slug) VALUES ($1, $2, $3, $4)
ON CONFLICT (vendor_id, slug) DO UPDATE SET name = EXCLUDED.name
RETURNING id`,
		newID, vendorRecordID, name, slug,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert category: %w", err)
	}
	return id, nil
}

// SaveProduct upserts a product on (vendor_id, url) and replaces its
// variants in a single transaction.
func (c *Catalog) SaveProduct(ctx context.Context, categoryID string, p crawler.Product) (string, bool, error) {
	newID, err := c.ids.NewID()
	if err != nil {
		return "", false, err
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin save product: %w", err)
	}
	defer rollback(ctx, tx)

	var thcMin, thcMax, cbdMin, cbdMax *float64
	if p.THC != nil {
		thcMin, thcMax = &p.THC.Min, &p.THC.Max
	}
	if p.CBD != nil {
		cbdMin, cbdMax = &p.CBD.Min, &p.CBD.Max
	}

	var (
		id       string
		inserted bool
	)
	err = tx.QueryRow(ctx, `
INSERT INTO products (id, vendor_id, category_id, name, url, slug, image_url, seed_type, cannabis_type,
	strain_type, badge, rating, review_count, thc_min, thc_max, cbd_min, cbd_max, flowering_time, growing_level)
SELECT $1, c.vendor_id, c.id, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
FROM categories c WHERE c.id = $2
ON CONFLICT (vendor_id, url) DO UPDATE SET category_id = EXCLUDED.category_id, name = EXCLUDED.name,
	slug = EXCLUDED.slug, image_url = EXCLUDED.image_url, seed_type = EXCLUDED.seed_type,
	cannabis_type = EXCLUDED.cannabis_type, strain_type = EXCLUDED.strain_type, badge = EXCLUDED.badge,
	rating = EXCLUDED.rating, review_count = EXCLUDED.review_count, thc_min = EXCLUDED.thc_min,
	thc_max = EXCLUDED.thc_max, cbd_min = EXCLUDED.cbd_min, cbd_max = EXCLUDED.cbd_max,
	flowering_time = EXCLUDED.flowering_time, growing_level = EXCLUDED.growing_level, updated_at = now()
RETURNING id, (xmax = 0)`,
		newID, categoryID, p.Name, p.URL, p.Slug, p.ImageURL, enumText(p.SeedType), enumText(p.CannabisType),
		p.StrainType, p.Badge, p.Rating, p.ReviewCount, thcMin, thcMax, cbdMin, cbdMax, p.FloweringTime, p.GrowingLevel,
	).Scan(&id, &inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("category %s: %w", categoryID, crawler.ErrNotFound)
		}
		return "", false, fmt.Errorf("upsert product: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM price_variants WHERE product_id = $1`, id); err != nil {
		return "", false, fmt.Errorf("clear variants: %w", err)
	}
	for _, v := range p.Variants {
		_, err := tx.Exec(ctx, `
INSERT INTO price_variants (product_id, pack_size, total_price, price_per_seed) VALUES ($1, $2, $3, $4)`,
			id, v.PackSize, v.TotalPrice, v.PricePerSeed,
		)
		if err != nil {
			return "", false, fmt.Errorf("insert variant %d: %w", v.PackSize, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit product: %w", err)
	}
	return id, inserted, nil
}

// ResolveProductIDs maps product URLs to stored ids in one query.
func (c *Catalog) ResolveProductIDs(ctx context.Context, vendorRecordID string, urls []string) (map[string]string, error) {
	out := make(map[string]string, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := c.db.Query(ctx, `SELECT url, id FROM products WHERE vendor_id = $1 AND url = ANY($2)`, vendorRecordID, urls)
	if err != nil {
		return nil, fmt.Errorf("resolve product ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u, id string
		if err := rows.Scan(&u, &id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		out[u] = id
	}
	return out, rows.Err()
}

// StoredPrices loads every stored variant for productIDs in one query.
func (c *Catalog) StoredPrices(ctx context.Context, productIDs []string) (map[string]map[int]float64, error) {
	out := make(map[string]map[int]float64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.Query(ctx, `
SELECT product_id, pack_size, total_price FROM price_variants WHERE product_id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load stored prices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			productID string
			packSize  int
			price     float64
		)
		if err := rows.Scan(&productID, &packSize, &price); err != nil {
			return nil, fmt.Errorf("scan stored price: %w", err)
		}
		if out[productID] == nil {
			out[productID] = make(map[int]float64)
		}
		out[productID][packSize] = price
	}
	return out, rows.Err()
}

// SubscribersForProducts returns users who saved any of productIDs with
// their saved list narrowed to that set, in one query.
func (c *Catalog) SubscribersForProducts(ctx context.Context, productIDs []string) ([]crawler.Subscriber, error) {
	out := make([]crawler.Subscriber, 0)
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.Query(ctx, `
SELECT u.id, u.email, u.name, u.price_alerts_enabled, array_agg(s.product_id ORDER BY s.product_id)
FROM users u
JOIN saved_products s ON s.user_id = u.id
WHERE s.product_id = ANY($1)
GROUP BY u.id, u.email, u.name, u.price_alerts_enabled
ORDER BY u.id`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub crawler.Subscriber
		if err := rows.Scan(&sub.UserID, &sub.Email, &sub.Name, &sub.AlertsEnabled, &sub.SavedProductIDs); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanVendor(row pgx.Row) (crawler.Vendor, error) {
	var v crawler.Vendor
	err := row.Scan(&v.ID, &v.Name, &v.BaseURL, &v.Adapter, &v.AffiliateTag, &v.Active, &v.AutoCrawlIntervalHours, &v.LastScraped)
	return v, err
}

func enumText[S ~string](v *S) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
