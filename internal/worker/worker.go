// Package worker executes queued tasks: crawl runs with persistence and price
// detection, and price-alert fan-out.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
	"github.com/JakeFAU/seedbank-crawler/internal/persistence"
	"github.com/JakeFAU/seedbank-crawler/internal/runner"
)

// CrawlRunner runs one crawl.
type CrawlRunner interface {
	Run(ctx context.Context, req runner.Request) (runner.Result, error)
}

// Persister writes crawl output.
type Persister interface {
	UpsertVendor(ctx context.Context, vendor crawler.Vendor) (string, error)
	UpsertCategory(ctx context.Context, vendorRecordID, name, slug string) (string, error)
	SaveProducts(ctx context.Context, categoryID string, products []crawler.Product) (crawler.SaveResult, error)
	ResolveProductIDs(ctx context.Context, vendorRecordID string, urls []string) (map[string]string, error)
	LogCrawl(ctx context.Context, entry crawler.CrawlLogEntry) error
}

// PriceDetector compares scraped prices with stored ones.
type PriceDetector interface {
	Detect(ctx context.Context, vendor crawler.Vendor, products []crawler.TaggedProduct) ([]crawler.PriceChange, error)
}

// Notifier fans price changes out to subscribers.
type Notifier interface {
	Notify(ctx context.Context, changes []crawler.PriceChange) (int, error)
}

// Config tunes a Worker.
type Config struct {
	// AlertPriority is the queue priority of price-alert tasks.
	AlertPriority int
}

// Deps are the collaborators of a Worker. Detector and Notifier may be nil,
// which disables price alerts.
type Deps struct {
	Queue    crawler.WorkQueue
	Jobs     crawler.JobStore
	Vendors  crawler.VendorStore
	Runner   CrawlRunner
	Persist  Persister
	Detector PriceDetector
	Notifier Notifier
	Clock    crawler.Clock
}

// Worker consumes queue deliveries one at a time.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("worker requires a queue")
	case deps.Jobs == nil:
		return nil, errors.New("worker requires a job store")
	case deps.Vendors == nil:
		return nil, errors.New("worker requires a vendor store")
	case deps.Runner == nil:
		return nil, errors.New("worker requires a crawl runner")
	case deps.Persist == nil:
		return nil, errors.New("worker requires a persister")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}, nil
}

// Run blocks, consuming deliveries until ctx finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("queue_id", d.ID),
			zap.String("kind", string(d.Task.Kind)),
			zap.Int("attempt", d.Attempt),
		)
		w.Process(ctx, d)
	}
}

// Process handles one delivery and settles it on the queue. A panic in a
// handler fails the task without retry.
func (w *Worker) Process(ctx context.Context, d crawler.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if rec := recover(); rec != nil {
			err := crawler.NewError(crawler.KindWorker, "panic", fmt.Errorf("%v", rec))
			w.logger.Error("task panicked",
				zap.String("queue_id", d.ID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			w.settleFailure(ctx, d, err, false)
			if d.Task.Kind == crawler.TaskCrawl {
				w.finishFailed(ctx, d, err, crawler.JobCounters{}, 0, 0)
			}
		}
	}()

	switch d.Task.Kind {
	case crawler.TaskCrawl:
		w.handleCrawl(ctx, d)
	case crawler.TaskPriceAlert:
		w.handlePriceAlert(ctx, d)
	default:
		err := crawler.NewError(crawler.KindWorker, "dispatch task", fmt.Errorf("unknown task kind %q", d.Task.Kind))
		w.logger.Error("unroutable task", zap.String("queue_id", d.ID), zap.Error(err))
		w.settleFailure(ctx, d, err, false)
	}
}

func (w *Worker) handleCrawl(ctx context.Context, d crawler.Delivery) {
	logger := w.logger.With(
		zap.String("job_id", d.Task.JobID),
		zap.String("vendor_id", d.Task.VendorID),
		zap.Int("attempt", d.Attempt),
	)

	job, err := w.deps.Jobs.GetJob(ctx, d.Task.JobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			logger.Warn("job record missing, dropping task")
			w.ack(ctx, d)
			return
		}
		w.fail(ctx, d, crawler.NewError(crawler.KindPersistence, "load job", err), crawler.JobCounters{}, 0, 0)
		return
	}
	if job.Status.Terminal() {
		logger.Info("job already finished, skipping", zap.String("status", string(job.Status)))
		w.ack(ctx, d)
		return
	}

	vendor, err := w.deps.Vendors.GetVendor(ctx, job.VendorID)
	if err != nil {
		w.fail(ctx, d, crawler.NewError(crawler.KindWorker, "load vendor", err), crawler.JobCounters{}, 0, 0)
		return
	}
	if !vendor.Active {
		w.fail(ctx, d, crawler.NewError(crawler.KindWorker, "load vendor", crawler.ErrVendorInactive), crawler.JobCounters{}, 0, 0)
		return
	}

	if _, err := w.deps.Jobs.Transition(ctx, job.JobID, crawler.JobStatusActive, crawler.TransitionFields{}); err != nil {
		if errors.Is(err, crawler.ErrTransitionRejected) {
			logger.Info("job moved on before start, skipping")
			w.ack(ctx, d)
			return
		}
		w.fail(ctx, d, crawler.NewError(crawler.KindPersistence, "mark job active", err), crawler.JobCounters{}, 0, 0)
		return
	}
	metrics.ObserveJob(string(crawler.JobStatusActive))

	started := w.deps.Clock.Now()
	result, runErr := w.deps.Runner.Run(ctx, runner.Request{
		JobID:  job.JobID,
		Vendor: vendor,
		Mode:   job.Mode,
		Config: job.Config,
	})
	counters := crawler.JobCounters{
		PagesVisited:    result.PagesVisited,
		TotalPages:      result.TotalPages,
		ProductsScraped: len(result.Products),
	}
	if result.ParseErrors > 0 {
		logger.Warn("listing pages failed extraction", zap.Int("parse_errors", result.ParseErrors))
	}

	// Partial output of a failed run is still persisted.
	var changes []crawler.PriceChange
	var persistErr error
	if len(result.Products) > 0 {
		var saved crawler.SaveResult
		saved, changes, persistErr = w.persist(ctx, vendor, result.Products)
		counters.ProductsSaved = saved.Saved
		counters.ProductsUpdated = saved.Updated
		counters.Errors += saved.Errors
	}
	if err := w.deps.Jobs.RecordProgress(ctx, job.JobID, counters); err != nil {
		logger.Warn("record progress failed", zap.Error(err))
	}

	duration := w.deps.Clock.Now().Sub(started)
	if err := firstErr(runErr, persistErr); err != nil {
		w.fail(ctx, d, err, counters, len(result.Products), duration)
		return
	}

	if len(changes) > 0 {
		w.enqueueAlert(ctx, vendor, changes, logger)
	}

	durationMs := duration.Milliseconds()
	if _, err := w.deps.Jobs.Transition(ctx, job.JobID, crawler.JobStatusCompleted, crawler.TransitionFields{
		Counters:   &counters,
		DurationMs: &durationMs,
	}); err != nil {
		if errors.Is(err, crawler.ErrTransitionRejected) {
			logger.Info("job finished elsewhere while crawling", zap.Error(err))
		} else {
			logger.Error("mark job completed failed", zap.Error(err))
		}
	}
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	w.logCrawl(ctx, crawler.CrawlLogEntry{
		VendorID:      vendor.ID,
		JobID:         job.JobID,
		Status:        crawler.CrawlLogSuccess,
		ProductsFound: len(result.Products),
		DurationMs:    durationMs,
	})
	w.ack(ctx, d)
	logger.Info("crawl job completed",
		zap.Int("pages_visited", counters.PagesVisited),
		zap.Int("products_scraped", counters.ProductsScraped),
		zap.Int("products_saved", counters.ProductsSaved),
		zap.Int("products_updated", counters.ProductsUpdated),
		zap.Int("errors", counters.Errors),
		zap.Int("price_changes", len(changes)),
		zap.Duration("duration", duration),
	)
}

// persist upserts the vendor and its catalog category, detects price drops
// against the stored prices, then saves the products.
func (w *Worker) persist(ctx context.Context, vendor crawler.Vendor, products []crawler.Product) (crawler.SaveResult, []crawler.PriceChange, error) {
	vendorRecordID, err := w.deps.Persist.UpsertVendor(ctx, vendor)
	if err != nil {
		return crawler.SaveResult{}, nil, err
	}
	categoryID, err := w.deps.Persist.UpsertCategory(ctx, vendorRecordID,
		persistence.DefaultCategoryName, persistence.DefaultCategorySlug)
	if err != nil {
		return crawler.SaveResult{}, nil, err
	}

	changes := w.detect(ctx, vendor, vendorRecordID, products)

	saved, err := w.deps.Persist.SaveProducts(ctx, categoryID, products)
	metrics.ObserveProducts(vendor.ID, "saved", saved.Saved)
	metrics.ObserveProducts(vendor.ID, "updated", saved.Updated)
	metrics.ObserveProducts(vendor.ID, "failed", saved.Errors)
	if err != nil {
		return saved, nil, err
	}
	return saved, changes, nil
}

// detect runs before products are saved so stored prices are still the
// previous crawl's. Failures here never fail the crawl.
func (w *Worker) detect(ctx context.Context, vendor crawler.Vendor, vendorRecordID string, products []crawler.Product) []crawler.PriceChange {
	if w.deps.Detector == nil {
		return nil
	}
	urls := make([]string, 0, len(products))
	for _, p := range products {
		urls = append(urls, p.URL)
	}
	ids, err := w.deps.Persist.ResolveProductIDs(ctx, vendorRecordID, urls)
	if err != nil {
		w.logger.Warn("resolve product ids failed, skipping price detection",
			zap.String("vendor_id", vendor.ID), zap.Error(err))
		return nil
	}
	tagged := make([]crawler.TaggedProduct, 0, len(products))
	for _, p := range products {
		tagged = append(tagged, crawler.TaggedProduct{ProductID: ids[p.URL], Product: p})
	}
	changes, err := w.deps.Detector.Detect(ctx, vendor, tagged)
	if err != nil {
		w.logger.Warn("price detection failed", zap.String("vendor_id", vendor.ID), zap.Error(err))
		return nil
	}
	metrics.ObservePriceChanges(vendor.ID, len(changes))
	return changes
}

func (w *Worker) enqueueAlert(ctx context.Context, vendor crawler.Vendor, changes []crawler.PriceChange, logger *zap.Logger) {
	if w.deps.Notifier == nil {
		return
	}
	id, err := w.deps.Queue.Enqueue(ctx, crawler.Task{
		Kind:         crawler.TaskPriceAlert,
		VendorID:     vendor.ID,
		PriceChanges: changes,
	}, crawler.EnqueueOptions{Priority: w.cfg.AlertPriority})
	if err != nil {
		logger.Error("enqueue price alert failed", zap.Int("price_changes", len(changes)), zap.Error(err))
		return
	}
	logger.Info("price alert queued", zap.String("queue_id", id), zap.Int("price_changes", len(changes)))
}

func (w *Worker) handlePriceAlert(ctx context.Context, d crawler.Delivery) {
	if w.deps.Notifier == nil {
		w.settleFailure(ctx, d, crawler.NewError(crawler.KindWorker, "notify", errors.New("notifications disabled")), false)
		return
	}
	sent, err := w.deps.Notifier.Notify(ctx, d.Task.PriceChanges)
	if err != nil {
		w.logger.Warn("price alert fan-out failed",
			zap.String("queue_id", d.ID),
			zap.String("vendor_id", d.Task.VendorID),
			zap.Int("attempt", d.Attempt),
			zap.Error(err),
		)
		w.settleFailure(ctx, d, err, crawler.IsRetryable(err))
		return
	}
	w.ack(ctx, d)
	w.logger.Info("price alerts dispatched",
		zap.String("queue_id", d.ID),
		zap.String("vendor_id", d.Task.VendorID),
		zap.Int("price_changes", len(d.Task.PriceChanges)),
		zap.Int("notifications", sent),
	)
}

// fail settles a crawl delivery that did not complete. While the queue will
// retry, the job stays ACTIVE carrying the attempt's error.
func (w *Worker) fail(ctx context.Context, d crawler.Delivery, cause error, counters crawler.JobCounters, found int, duration time.Duration) {
	retryable := crawler.IsRetryable(cause)
	if ctx.Err() != nil {
		// Shutdown: hand the task back for another worker.
		retryable = true
	}
	willRetry := w.settleFailure(ctx, d, cause, retryable)
	if willRetry {
		bg := context.WithoutCancel(ctx)
		if _, err := w.deps.Jobs.Transition(bg, d.Task.JobID, crawler.JobStatusActive, crawler.TransitionFields{
			ErrorMessage: cause.Error(),
			ErrorDetail:  crawler.DetailOf(cause, d.Attempt),
			Counters:     &counters,
		}); err != nil {
			w.logger.Warn("record attempt error failed", zap.String("job_id", d.Task.JobID), zap.Error(err))
		}
		w.logCrawlFailure(bg, d, cause, found, duration)
		w.logger.Warn("crawl attempt failed, will retry",
			zap.String("job_id", d.Task.JobID),
			zap.Int("attempt", d.Attempt),
			zap.Int("max_attempts", d.MaxAttempts),
			zap.Error(cause),
		)
		return
	}
	w.finishFailed(ctx, d, cause, counters, found, duration)
}

func (w *Worker) finishFailed(ctx context.Context, d crawler.Delivery, cause error, counters crawler.JobCounters, found int, duration time.Duration) {
	bg := context.WithoutCancel(ctx)
	durationMs := duration.Milliseconds()
	fields := crawler.TransitionFields{
		ErrorMessage: cause.Error(),
		ErrorDetail:  crawler.DetailOf(cause, d.Attempt),
		Counters:     &counters,
	}
	if duration > 0 {
		fields.DurationMs = &durationMs
	}
	if _, err := w.deps.Jobs.Transition(bg, d.Task.JobID, crawler.JobStatusFailed, fields); err != nil && !errors.Is(err, crawler.ErrTransitionRejected) {
		w.logger.Error("mark job failed failed", zap.String("job_id", d.Task.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	w.logCrawlFailure(bg, d, cause, found, duration)
	w.logger.Error("crawl job failed",
		zap.String("job_id", d.Task.JobID),
		zap.String("vendor_id", d.Task.VendorID),
		zap.String("kind", string(crawler.KindOf(cause))),
		zap.Int("attempt", d.Attempt),
		zap.Error(cause),
	)
}

// settleFailure nacks the delivery and reports whether the queue will retry.
func (w *Worker) settleFailure(ctx context.Context, d crawler.Delivery, cause error, retryable bool) bool {
	willRetry, err := w.deps.Queue.Nack(context.WithoutCancel(ctx), d.ID, cause, retryable)
	if err != nil {
		w.logger.Error("queue nack failed", zap.String("queue_id", d.ID), zap.Error(err))
		return false
	}
	return willRetry
}

func (w *Worker) ack(ctx context.Context, d crawler.Delivery) {
	if err := w.deps.Queue.Ack(context.WithoutCancel(ctx), d.ID); err != nil {
		w.logger.Error("queue ack failed", zap.String("queue_id", d.ID), zap.Error(err))
	}
}

type crawlLogError struct {
	ErrorType crawler.ErrorKind `json:"errorType"`
	Severity  crawler.Severity  `json:"severity"`
	Message   string            `json:"message"`
}

func (w *Worker) logCrawlFailure(ctx context.Context, d crawler.Delivery, cause error, found int, duration time.Duration) {
	kind := crawler.KindOf(cause)
	payload, err := json.Marshal([]crawlLogError{{
		ErrorType: kind,
		Severity:  crawler.SeverityOf(kind),
		Message:   cause.Error(),
	}})
	if err != nil {
		w.logger.Warn("encode crawl log errors", zap.Error(err))
		payload = nil
	}
	w.logCrawl(ctx, crawler.CrawlLogEntry{
		VendorID:      d.Task.VendorID,
		JobID:         d.Task.JobID,
		Status:        crawler.CrawlLogError,
		ProductsFound: found,
		DurationMs:    duration.Milliseconds(),
		Errors:        payload,
	})
}

func (w *Worker) logCrawl(ctx context.Context, entry crawler.CrawlLogEntry) {
	if err := w.deps.Persist.LogCrawl(ctx, entry); err != nil {
		w.logger.Warn("append crawl log failed", zap.String("job_id", entry.JobID), zap.Error(err))
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
