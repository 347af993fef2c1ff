package crawler

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusCreated   JobStatus = "CREATED"
	JobStatusWaiting   JobStatus = "WAITING"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Rank orders statuses so that transitions never move backwards.
// Unknown statuses rank below CREATED.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusCreated:
		return 0
	case JobStatusWaiting:
		return 1
	case JobStatusActive:
		return 2
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to JobStatus) bool {
	if !to.Valid() || from.Terminal() {
		return false
	}
	return to.Rank() >= from.Rank()
}

// NonTerminalStatuses lists the statuses reconciliation and listing care about.
var NonTerminalStatuses = []JobStatus{JobStatusCreated, JobStatusWaiting, JobStatusActive}

// JobMode identifies what triggered a crawl.
type JobMode string

// Supported job modes.
const (
	JobModeManual    JobMode = "manual"
	JobModeScheduled JobMode = "scheduled"
	JobModeTest      JobMode = "test"
)

// Valid reports whether m is a known mode.
func (m JobMode) Valid() bool {
	switch m {
	case JobModeManual, JobModeScheduled, JobModeTest:
		return true
	default:
		return false
	}
}

// CrawlConfig bounds a single crawl run.
type CrawlConfig struct {
	StartPage     *int `json:"startPage,omitempty" mapstructure:"start_page"`
	EndPage       *int `json:"endPage,omitempty" mapstructure:"end_page"`
	FullSiteCrawl bool `json:"fullSiteCrawl" mapstructure:"full_site_crawl"`
}

// FirstPage returns the first page to visit.
func (c CrawlConfig) FirstPage() int {
	if c.StartPage == nil || *c.StartPage < 1 {
		return 1
	}
	return *c.StartPage
}

// JobCounters tracks progress for the current run segment.
type JobCounters struct {
	PagesVisited    int `json:"pagesVisited"`
	TotalPages      int `json:"totalPages"`
	ProductsScraped int `json:"productsScraped"`
	ProductsSaved   int `json:"productsSaved"`
	ProductsUpdated int `json:"productsUpdated"`
	Errors          int `json:"errors"`
}

// ErrorDetail is the structured companion to a job's error message.
type ErrorDetail struct {
	Kind       ErrorKind `json:"errorType"`
	Severity   Severity  `json:"severity"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
}

// CrawlJob is the durable record of one crawl request.
type CrawlJob struct {
	ID           string       `json:"id"`
	JobID        string       `json:"jobId"`
	VendorID     string       `json:"vendorId"`
	Status       JobStatus    `json:"status"`
	Mode         JobMode      `json:"mode"`
	Config       CrawlConfig  `json:"config"`
	Counters     JobCounters  `json:"counters"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	DurationMs   *int64       `json:"durationMs,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	ErrorDetail  *ErrorDetail `json:"errorDetail,omitempty"`
}

// TransitionFields carries the optional columns written with a status change.
// Nil pointers leave the stored value untouched.
type TransitionFields struct {
	ErrorMessage string
	ErrorDetail  *ErrorDetail
	Counters     *JobCounters
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMs   *int64
}

// JobFilter narrows job listings.
type JobFilter struct {
	VendorID string
	Statuses []JobStatus
	Limit    int
}

// Source is one listing entry point for a vendor.
type Source struct {
	Path     string `json:"path" mapstructure:"path"`
	MaxPages int    `json:"maxPages,omitempty" mapstructure:"max_pages"`
}

// Vendor is a crawlable seed bank and its sources.
type Vendor struct {
	ID                     string     `json:"id" mapstructure:"id"`
	Name                   string     `json:"name" mapstructure:"name"`
	BaseURL                string     `json:"baseUrl" mapstructure:"base_url"`
	Adapter                string     `json:"adapter" mapstructure:"adapter"`
	AffiliateTag           string     `json:"affiliateTag,omitempty" mapstructure:"affiliate_tag"`
	Active                 bool       `json:"active" mapstructure:"active"`
	AutoCrawlIntervalHours *int       `json:"autoCrawlIntervalHours,omitempty" mapstructure:"auto_crawl_interval_hours"`
	LastScraped            *time.Time `json:"lastScraped,omitempty" mapstructure:"-"`
	Sources                []Source   `json:"sources" mapstructure:"sources"`
}

// SeedType classifies the seed genetics.
type SeedType string

// Seed types recognised in product names.
const (
	SeedTypeAutoflower  SeedType = "AUTOFLOWER"
	SeedTypeFeminized   SeedType = "FEMINIZED"
	SeedTypeRegular     SeedType = "REGULAR"
	SeedTypePhotoperiod SeedType = "PHOTOPERIOD"
)

// CannabisType is the indica/sativa classification.
type CannabisType string

// Cannabis types recognised in strain descriptions.
const (
	CannabisTypeIndica CannabisType = "INDICA"
	CannabisTypeSativa CannabisType = "SATIVA"
	CannabisTypeHybrid CannabisType = "HYBRID"
)

// Range is a min/max percentage such as a THC level.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PriceVariant is one purchasable pack size.
type PriceVariant struct {
	PackSize     int     `json:"packSize"`
	TotalPrice   float64 `json:"totalPrice"`
	PricePerSeed float64 `json:"pricePerSeed"`
}

// Product is the normalized record every adapter returns. Optional
// attributes are nil when the listing does not carry them.
type Product struct {
	Name          string         `json:"name"`
	URL           string         `json:"url"`
	Slug          string         `json:"slug"`
	ImageURL      *string        `json:"imageUrl,omitempty"`
	SeedType      *SeedType      `json:"seedType,omitempty"`
	CannabisType  *CannabisType  `json:"cannabisType,omitempty"`
	StrainType    *string        `json:"strainType,omitempty"`
	Badge         *string        `json:"badge,omitempty"`
	Rating        *float64       `json:"rating,omitempty"`
	ReviewCount   *int           `json:"reviewCount,omitempty"`
	THC           *Range         `json:"thc,omitempty"`
	CBD           *Range         `json:"cbd,omitempty"`
	FloweringTime *string        `json:"floweringTime,omitempty"`
	GrowingLevel  *string        `json:"growingLevel,omitempty"`
	Variants      []PriceVariant `json:"variants"`
}

// SaveResult summarises a product batch write.
type SaveResult struct {
	Saved      int               `json:"saved"`
	Updated    int               `json:"updated"`
	Errors     int               `json:"errors"`
	ProductIDs map[string]string `json:"-"`
}

// CrawlLogStatus is the outcome recorded in the crawl log.
type CrawlLogStatus string

// Crawl log outcomes.
const (
	CrawlLogSuccess CrawlLogStatus = "success"
	CrawlLogError   CrawlLogStatus = "error"
)

// CrawlLogEntry is an append-only audit row per run.
type CrawlLogEntry struct {
	ID            int64           `json:"id" db:"id"`
	VendorID      string          `json:"vendorId" db:"vendor_id"`
	JobID         string          `json:"jobId" db:"job_id"`
	Status        CrawlLogStatus  `json:"status" db:"status"`
	ProductsFound int             `json:"productsFound" db:"products_found"`
	DurationMs    int64           `json:"durationMs" db:"duration_ms"`
	Errors        json.RawMessage `json:"errors,omitempty" db:"errors"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers map[string]string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// TaggedProduct pairs a scraped product with its stored id. ProductID is
// empty for products that have never been saved.
type TaggedProduct struct {
	ProductID string
	Product   Product
}

// PriceChange is one pack size whose price moved between two crawls.
type PriceChange struct {
	ProductID     string  `json:"productId"`
	ProductName   string  `json:"productName"`
	ProductSlug   string  `json:"productSlug"`
	ProductImage  *string `json:"productImage,omitempty"`
	ProductURL    string  `json:"productUrl"`
	VendorID      string  `json:"vendorId"`
	VendorName    string  `json:"vendorName"`
	VendorWebsite string  `json:"vendorWebsite"`
	AffiliateTag  string  `json:"affiliateTag,omitempty"`
	PackSize      int     `json:"packSize"`
	OldPrice      float64 `json:"oldPrice"`
	NewPrice      float64 `json:"newPrice"`
	PriceChange   float64 `json:"priceChange"`
	PercentChange float64 `json:"percentChange"`
	Currency      string  `json:"currency"`
}
