package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

type category struct {
	id       string
	vendorID string
	name     string
	slug     string
}

type productRow struct {
	id         string
	vendorID   string
	categoryID string
	product    crawler.Product
	updatedAt  time.Time
}

// Catalog holds vendors, categories, products and subscribers in memory.
// It backs the persistence service, the price detector and the
// notification resolver when no database is configured.
type Catalog struct {
	mu          sync.RWMutex
	vendors     map[string]crawler.Vendor
	categories  map[string]category
	products    map[string]*productRow
	byURL       map[string]string
	subscribers []crawler.Subscriber
	ids         crawler.IDGenerator
	failOn      map[string]error
}

// NewCatalog seeds a catalog with the configured vendors.
func NewCatalog(vendors ...crawler.Vendor) *Catalog {
	c := &Catalog{
		vendors:    make(map[string]crawler.Vendor, len(vendors)),
		categories: make(map[string]category),
		products:   make(map[string]*productRow),
		byURL:      make(map[string]string),
		ids:        uuid.New(),
		failOn:     make(map[string]error),
	}
	for _, v := range vendors {
		c.vendors[v.ID] = v
	}
	return c
}

// GetVendor implements crawler.VendorStore.
func (c *Catalog) GetVendor(_ context.Context, vendorID string) (crawler.Vendor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vendors[vendorID]
	if !ok {
		return crawler.Vendor{}, fmt.Errorf("vendor %s: %w", vendorID, crawler.ErrNotFound)
	}
	return v, nil
}

// ListVendors implements crawler.VendorStore, ordered by id.
func (c *Catalog) ListVendors(_ context.Context) ([]crawler.Vendor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]crawler.Vendor, 0, len(c.vendors))
	for _, v := range c.vendors {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b crawler.Vendor) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// UpsertVendor creates or refreshes the vendor record and stamps LastScraped.
func (c *Catalog) UpsertVendor(_ context.Context, vendor crawler.Vendor, scrapedAt time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.vendors[vendor.ID]
	if ok {
		existing.Name = vendor.Name
		existing.BaseURL = vendor.BaseURL
		vendor = existing
	}
	ts := scrapedAt
	vendor.LastScraped = &ts
	c.vendors[vendor.ID] = vendor
	return vendor.ID, nil
}

// UpsertCategory returns the category id for (vendor, slug), creating it.
func (c *Catalog) UpsertCategory(_ context.Context, vendorRecordID, name, slug string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cat := range c.categories {
		if cat.vendorID == vendorRecordID && cat.slug == slug {
			cat.name = name
			c.categories[id] = cat
			return id, nil
		}
	}
	id, err := c.ids.NewID()
	if err != nil {
		return "", err
	}
	c.categories[id] = category{id: id, vendorID: vendorRecordID, name: name, slug: slug}
	return id, nil
}

// SaveProduct upserts one product keyed by (vendor, url) and replaces its
// variants. created is true for first sightings.
func (c *Catalog) SaveProduct(_ context.Context, categoryID string, p crawler.Product) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failOn[p.URL]; ok {
		return "", false, err
	}
	cat, ok := c.categories[categoryID]
	if !ok {
		return "", false, fmt.Errorf("category %s: %w", categoryID, crawler.ErrNotFound)
	}
	p.Variants = append([]crawler.PriceVariant(nil), p.Variants...)
	key := cat.vendorID + "|" + p.URL
	if id, exists := c.byURL[key]; exists {
		row := c.products[id]
		row.product = p
		row.categoryID = categoryID
		row.updatedAt = time.Now().UTC()
		return id, false, nil
	}
	id, err := c.ids.NewID()
	if err != nil {
		return "", false, err
	}
	c.products[id] = &productRow{id: id, vendorID: cat.vendorID, categoryID: categoryID, product: p, updatedAt: time.Now().UTC()}
	c.byURL[key] = id
	return id, true, nil
}

// ResolveProductIDs maps product URLs to stored ids for a vendor. Unknown
// URLs are absent from the result.
func (c *Catalog) ResolveProductIDs(_ context.Context, vendorRecordID string, urls []string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		if id, ok := c.byURL[vendorRecordID+"|"+u]; ok {
			out[u] = id
		}
	}
	return out, nil
}

// StoredPrices returns pack size to total price for each known product id.
func (c *Catalog) StoredPrices(_ context.Context, productIDs []string) (map[string]map[int]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[int]float64, len(productIDs))
	for _, id := range productIDs {
		row, ok := c.products[id]
		if !ok {
			continue
		}
		prices := make(map[int]float64, len(row.product.Variants))
		for _, v := range row.product.Variants {
			prices[v.PackSize] = v.TotalPrice
		}
		out[id] = prices
	}
	return out, nil
}

// Product returns a stored product by id.
func (c *Catalog) Product(id string) (crawler.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.products[id]
	if !ok {
		return crawler.Product{}, false
	}
	return row.product, true
}

// ProductCount returns the number of stored products.
func (c *Catalog) ProductCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// AddSubscriber registers a storefront user and their saved products.
func (c *Catalog) AddSubscriber(sub crawler.Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub.SavedProductIDs = append([]string(nil), sub.SavedProductIDs...)
	c.subscribers = append(c.subscribers, sub)
}

// SubscribersForProducts returns every user who saved at least one of the
// given products, with SavedProductIDs narrowed to that set. Alert
// preferences are returned as stored; filtering is the caller's job.
func (c *Catalog) SubscribersForProducts(_ context.Context, productIDs []string) ([]crawler.Subscriber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]crawler.Subscriber, 0)
	for _, sub := range c.subscribers {
		var saved []string
		for _, id := range sub.SavedProductIDs {
			if slices.Contains(productIDs, id) {
				saved = append(saved, id)
			}
		}
		if len(saved) == 0 {
			continue
		}
		sub.SavedProductIDs = saved
		out = append(out, sub)
	}
	return out, nil
}

// FailSaveFor makes SaveProduct return err for the given product URL.
func (c *Catalog) FailSaveFor(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[url] = err
}
