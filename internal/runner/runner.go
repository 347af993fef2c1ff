// Package runner drives one polite crawl of a vendor's listing pages: robots
// policy first, then paced fetches through the host gate, then adapter
// extraction and progress reporting.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/adapter"
	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
	"github.com/JakeFAU/seedbank-crawler/internal/policy/robots"
	"github.com/JakeFAU/seedbank-crawler/internal/progress"
)

// Phase is the coarse lifecycle position of a run.
type Phase string

// Run phases.
const (
	PhaseQueued     Phase = "queued"
	PhaseFetching   Phase = "fetching"
	PhaseExtracting Phase = "extracting"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Default run limits.
const (
	DefaultFetchAttempts   = 3
	DefaultMaxPagesCap     = 50
	DefaultDefaultMaxPages = 5
	DefaultTestPages       = 1
)

// Config bounds a run.
type Config struct {
	FetchAttempts   int
	MaxPagesCap     int
	DefaultMaxPages int
	TestPages       int
	SnapshotPrefix  string
}

func (c Config) withDefaults() Config {
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = DefaultFetchAttempts
	}
	if c.MaxPagesCap <= 0 {
		c.MaxPagesCap = DefaultMaxPagesCap
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = DefaultDefaultMaxPages
	}
	if c.TestPages <= 0 {
		c.TestPages = DefaultTestPages
	}
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = "snapshots"
	}
	return c
}

// PolicyLoader yields the robots policy for a vendor site.
type PolicyLoader interface {
	Load(ctx context.Context, baseURL string) *robots.Policy
}

// HostGate serialises requests per host. The returned func releases the slot.
type HostGate interface {
	Acquire(ctx context.Context, rawURL string) (func(), error)
}

// Deps are the collaborators of a Runner. Blobs and Hasher are optional;
// snapshots are skipped when either is nil.
type Deps struct {
	Fetcher  crawler.Fetcher
	Robots   PolicyLoader
	Adapters *adapter.Registry
	Gate     HostGate
	Emitter  progress.Emitter
	Pauser   Pauser
	Clock    crawler.Clock
	Blobs    crawler.BlobStore
	Hasher   crawler.Hasher
}

// Request identifies one run.
type Request struct {
	JobID  string
	Vendor crawler.Vendor
	Mode   crawler.JobMode
	Config crawler.CrawlConfig
}

// Skip is a URL the run deliberately did not fetch.
type Skip struct {
	URL    string
	Page   int
	Reason crawler.ErrorKind
}

// Result is what a run gathered. It is returned with partial contents when
// Run fails.
type Result struct {
	Products     []crawler.Product
	PagesVisited int
	TotalPages   int
	ParseErrors  int
	Duration     time.Duration
	Skipped      []Skip
	Phase        Phase
	Attempt      int
}

// Runner crawls vendor listings.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) *Runner {
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Pauser == nil {
		deps.Pauser = system.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg.withDefaults(), logger: logger.Named("runner")}
}

// run carries the mutable state of a single Run call.
type run struct {
	req     Request
	adapter adapter.Adapter
	policy  *robots.Policy
	seen    visitTracker
	result  Result
	started time.Time
	logger  *zap.Logger
}

// Run crawls every source of the vendor in order.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	st := &run{
		req:     req,
		seen:    newConcurrentVisitTracker(),
		started: r.deps.Clock.Now(),
		logger: r.logger.With(
			zap.String("job_id", req.JobID),
			zap.String("vendor_id", req.Vendor.ID),
		),
	}
	st.result.Phase = PhaseQueued

	a, err := r.deps.Adapters.Lookup(req.Vendor.Adapter)
	if err != nil {
		return r.fail(st, crawler.NewError(crawler.KindWorker, "lookup adapter", err))
	}
	st.adapter = a

	st.policy = r.deps.Robots.Load(ctx, req.Vendor.BaseURL)
	st.logger.Info("crawl started",
		zap.Int("sources", len(req.Vendor.Sources)),
		zap.Bool("explicit_crawl_delay", st.policy.HasExplicitDelay()),
		zap.Int("disallowed_rules", len(st.policy.DisallowedPaths())),
	)
	r.emit(st, progress.Event{Stage: progress.StageRunStart})

	for i, src := range req.Vendor.Sources {
		if i > 0 {
			r.deps.Pauser.Pause(ctx, st.policy.Delay())
		}
		if err := r.crawlSource(ctx, st, src); err != nil {
			return r.fail(st, err)
		}
	}

	st.result.Phase = PhaseCompleted
	st.result.Duration = r.deps.Clock.Now().Sub(st.started)
	r.emit(st, progress.Event{Stage: progress.StageRunDone, Dur: st.result.Duration})
	st.logger.Info("crawl finished",
		zap.Int("pages_visited", st.result.PagesVisited),
		zap.Int("products", len(st.result.Products)),
		zap.Int("skipped", len(st.result.Skipped)),
		zap.Duration("duration", st.result.Duration),
	)
	return st.result, nil
}

func (r *Runner) crawlSource(ctx context.Context, st *run, src crawler.Source) error {
	first := st.req.Config.FirstPage()
	last, planned := r.explicitBound(st, first)
	if planned {
		st.result.TotalPages += last - first + 1
	}

	for page := first; !planned || page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageURL, err := st.adapter.PageURL(st.req.Vendor.BaseURL, src.Path, page)
		if err != nil {
			return crawler.NewError(crawler.KindWorker, "build page url", err)
		}

		if !st.policy.IsAllowed(pageURL) {
			r.skip(st, pageURL, page)
			if !planned {
				last, planned = r.fallbackBound(st, src, first, nil), true
				st.result.TotalPages += last - first + 1
			}
			continue
		}

		st.result.Phase = PhaseFetching
		resp, err := r.fetchWithRetry(ctx, st, pageURL)
		if err != nil {
			return err
		}
		metrics.ObservePage(st.req.Vendor.ID, string(progress.ClassifyStatus(resp.StatusCode)), len(resp.Body))
		st.result.PagesVisited++

		st.result.Phase = PhaseExtracting
		ext, err := st.adapter.Extract(resp.Body, st.adapter.Selectors(), st.req.Vendor.BaseURL)
		if err != nil {
			st.result.ParseErrors++
			st.logger.Warn("listing page extraction failed", zap.Int("page", page), zap.Error(err))
		}
		added := r.accumulate(st, ext.Products)
		if len(ext.Products) == 0 {
			st.logger.Info("listing page had no products", zap.Int("page", page), zap.String("url", pageURL))
		}

		if !planned {
			last, planned = r.fallbackBound(st, src, first, ext.MaxPage), true
			st.result.TotalPages += last - first + 1
		}

		r.snapshot(ctx, st, page, resp.Body)
		r.emit(st, progress.Event{
			Stage:       progress.StagePageDone,
			Page:        page,
			URL:         pageURL,
			Bytes:       int64(len(resp.Body)),
			StatusClass: progress.ClassifyStatus(resp.StatusCode),
			Dur:         resp.Duration,
			Note:        fmt.Sprintf("%d new products", added),
		})

		if page < last {
			r.deps.Pauser.Pause(ctx, st.policy.Delay())
		}
	}
	return nil
}

// explicitBound returns the last page when it is known before any fetch.
func (r *Runner) explicitBound(st *run, first int) (int, bool) {
	if end := st.req.Config.EndPage; end != nil {
		return max(*end, first), true
	}
	if st.req.Mode == crawler.JobModeTest {
		return first + r.cfg.TestPages - 1, true
	}
	return 0, false
}

// fallbackBound resolves the last page from the adapter's pagination, then
// the source hint, then the configured default.
func (r *Runner) fallbackBound(st *run, src crawler.Source, first int, detected *int) int {
	var last int
	switch {
	case detected != nil && *detected > 0:
		last = min(*detected, r.cfg.MaxPagesCap)
		if !st.req.Config.FullSiteCrawl && src.MaxPages > 0 {
			last = min(last, src.MaxPages)
		}
	case src.MaxPages > 0:
		last = min(src.MaxPages, r.cfg.MaxPagesCap)
		st.logger.Info("no pagination detected, using source page hint",
			zap.String("source", src.Path), zap.Int("max_pages", last))
	default:
		last = r.cfg.DefaultMaxPages
		st.logger.Info("no pagination detected, using default page count",
			zap.String("source", src.Path), zap.Int("max_pages", last))
	}
	return max(last, first)
}

func (r *Runner) fetchWithRetry(ctx context.Context, st *run, pageURL string) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.FetchAttempts; attempt++ {
		st.result.Attempt = attempt
		release, err := r.deps.Gate.Acquire(ctx, pageURL)
		if err != nil {
			return crawler.FetchResponse{}, &crawler.Error{Kind: crawler.KindOf(err), Op: "acquire host slot", URL: pageURL, Err: err}
		}
		resp, err := r.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{JobID: st.req.JobID, URL: pageURL})
		release()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, err
		}

		status := statusOf(err)
		retry := crawler.IsRetryable(err)
		if status != 0 {
			retry = st.policy.ShouldRetry(status)
		}
		if !retry {
			return crawler.FetchResponse{}, err
		}
		if attempt == r.cfg.FetchAttempts {
			break
		}
		delay := st.policy.BackoffDelay(status, attempt)
		st.logger.Warn("page fetch failed, backing off",
			zap.String("url", pageURL),
			zap.Int("status", status),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		r.deps.Pauser.Pause(ctx, delay)
	}
	// Still retryable: the queue reruns the crawl after its own, longer backoff.
	return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %d attempts exhausted: %w", pageURL, r.cfg.FetchAttempts, lastErr)
}

func (r *Runner) accumulate(st *run, products []crawler.Product) int {
	added := 0
	for _, p := range products {
		if !st.seen.MarkIfNew(p.URL) {
			continue
		}
		st.result.Products = append(st.result.Products, p)
		added++
	}
	metrics.ObserveProducts(st.req.Vendor.ID, "scraped", added)
	return added
}

func (r *Runner) skip(st *run, pageURL string, page int) {
	st.result.Skipped = append(st.result.Skipped, Skip{URL: pageURL, Page: page, Reason: crawler.KindPolicyViolation})
	metrics.ObserveRobotsSkip(st.req.Vendor.ID)
	st.logger.Info("robots policy disallows page", zap.Int("page", page), zap.String("url", pageURL))
	r.emit(st, progress.Event{Stage: progress.StagePageSkipped, Page: page, URL: pageURL, Note: string(crawler.KindPolicyViolation)})
}

func (r *Runner) snapshot(ctx context.Context, st *run, page int, body []byte) {
	if r.deps.Blobs == nil || r.deps.Hasher == nil || len(body) == 0 {
		return
	}
	sum, err := r.deps.Hasher.Hash(body)
	if err != nil {
		st.logger.Warn("hash listing snapshot", zap.Error(err))
		return
	}
	key := fmt.Sprintf("%s/%s/%s/page-%03d-%s.html", r.cfg.SnapshotPrefix, st.req.Vendor.ID, st.req.JobID, page, sum)
	if _, err := r.deps.Blobs.PutObject(ctx, key, "text/html; charset=utf-8", body); err != nil {
		st.logger.Warn("store listing snapshot", zap.String("key", key), zap.Error(err))
	}
}

func (r *Runner) fail(st *run, err error) (Result, error) {
	st.result.Phase = PhaseFailed
	if errors.Is(err, context.Canceled) {
		st.result.Phase = PhaseCancelled
	}
	st.result.Duration = r.deps.Clock.Now().Sub(st.started)
	r.emit(st, progress.Event{Stage: progress.StageRunError, Dur: st.result.Duration, Note: err.Error()})
	st.logger.Warn("crawl failed",
		zap.String("phase", string(st.result.Phase)),
		zap.Int("pages_visited", st.result.PagesVisited),
		zap.Int("products", len(st.result.Products)),
		zap.Error(err),
	)
	return st.result, err
}

func (r *Runner) emit(st *run, evt progress.Event) {
	evt.JobID = st.req.JobID
	evt.VendorID = st.req.Vendor.ID
	evt.TS = r.deps.Clock.Now()
	evt.PagesVisited = st.result.PagesVisited
	evt.TotalPages = st.result.TotalPages
	evt.ProductsScraped = len(st.result.Products)
	evt.Errors = st.result.ParseErrors
	r.deps.Emitter.Emit(evt)
}

func statusOf(err error) int {
	var ce *crawler.Error
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
